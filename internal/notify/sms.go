package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	txtlocalEndpoint = "https://api.txtlocal.com/send/"
	smsMaxLen        = 160
)

// sms sends a text message through the Textlocal HTTP API.
type sms struct {
	msgs     messages
	endpoint string
	user     string
	hash     string
	numbers  string
	sender   string
	client   *http.Client
}

func newSMS(p config.Params, msgs messages, client *http.Client) (*sms, error) {
	user, err := p.RequiredString("user")
	if err != nil {
		return nil, err
	}
	hash := p.Secret("hash")
	if hash == "" {
		return nil, &config.MissingParamError{Key: "hash"}
	}
	to, err := p.Strings("to")
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, &config.MissingParamError{Key: "to"}
	}
	return &sms{
		msgs:     msgs,
		endpoint: p.String("endpoint", txtlocalEndpoint),
		user:     user,
		hash:     hash,
		numbers:  strings.Join(to, ","),
		sender:   p.String("sender", "AirPi"),
		client:   client,
	}, nil
}

func (s *sms) send(ctx context.Context, reason types.Reason) error {
	form := url.Values{
		"username": {s.user},
		"hash":     {s.hash},
		"numbers":  {s.numbers},
		"message":  {truncate(s.msgs.text(reason), smsMaxLen)},
		"sender":   {s.sender},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms gateway returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" {
		if len(body.Errors) > 0 {
			return fmt.Errorf("sms gateway: %s", body.Errors[0].Message)
		}
		return fmt.Errorf("sms gateway status %q", body.Status)
	}
	return nil
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
