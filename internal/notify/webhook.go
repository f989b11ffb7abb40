package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// Alert is the body posted by the "http" webhook flavour.
type Alert struct {
	Reason  types.Reason `json:"reason"`
	Host    string       `json:"host"`
	Message string       `json:"message"`
	Time    time.Time    `json:"time"`
}

// webhook posts JSON to a chat or HTTP endpoint.
type webhook struct {
	msgs   messages
	flavor string // "slack" | "teams" | "http"
	url    string
	host   string
	client *http.Client
	now    func() time.Time
}

func newWebhook(p config.Params, msgs messages, host string, client *http.Client) (*webhook, error) {
	u := p.Secret("url")
	if u == "" {
		return nil, &config.MissingParamError{Key: "url"}
	}
	flavor := p.String("format", "http")
	switch flavor {
	case "slack", "teams", "http":
	default:
		return nil, fmt.Errorf("unknown webhook format %q", flavor)
	}
	return &webhook{msgs: msgs, flavor: flavor, url: u, host: host, client: client, now: time.Now}, nil
}

func (w *webhook) send(ctx context.Context, reason types.Reason) error {
	text := w.msgs.text(reason)
	var payload any
	switch w.flavor {
	case "slack":
		payload = map[string]string{"text": fmt.Sprintf("*%s* %s", reasonLabel(reason), text)}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": "FF4F6A",
			"summary":    w.msgs.subject,
			"title":      w.msgs.subject,
			"text":       text,
		}
	default:
		payload = map[string]any{"alert": Alert{Reason: reason, Host: w.host, Message: text, Time: w.now()}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.post(ctx, body)
}

func (w *webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func reasonLabel(r types.Reason) string {
	switch r {
	case types.ReasonSensor:
		return "[SENSOR FAILURE]"
	case types.ReasonOutput:
		return "[OUTPUT FAILURE]"
	default:
		return "[ALERT]"
	}
}
