// Package notify implements the failure notifiers: email, SMS and webhook.
//
// Every notifier swallows its own delivery errors. A failed delivery is
// logged and the engine carries on; there is no retry.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const sendTimeout = 30 * time.Second

// New returns the notifier for p. host replaces "<hostname>" in message
// templates; client is used by the HTTP-based notifiers.
func New(p config.Plugin, host string, client *http.Client) (types.Notifier, error) {
	msgs := messagesFrom(p.Params, host)
	var (
		s   sender
		err error
	)
	switch p.Type {
	case "email":
		s, err = newEmail(p.Params, msgs)
	case "sms":
		s, err = newSMS(p.Params, msgs, client)
	case "webhook":
		s, err = newWebhook(p.Params, msgs, host, client)
	default:
		err = fmt.Errorf("unsupported type %q", p.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("notifier %q: %w", p.Label(), err)
	}
	return &notifier{name: p.Label(), kind: p.Type, s: s}, nil
}

// sender is one delivery mechanism.
type sender interface {
	send(ctx context.Context, reason types.Reason) error
}

// notifier adapts a sender to types.Notifier: bounded in time, errors logged.
type notifier struct {
	name string
	kind string
	s    sender
}

func (n *notifier) Notify(ctx context.Context, reason types.Reason) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.s.send(ctx, reason); err != nil {
		slog.Error("notify: delivery failed", "notifier", n.name, "type", n.kind, "reason", reason, "err", err)
		return
	}
	slog.Info("notify: delivered", "notifier", n.name, "type", n.kind, "reason", reason)
}

// messages holds the text for each reason, with <hostname> already
// substituted.
type messages struct {
	subject string
	sensor  string
	output  string
}

func messagesFrom(p config.Params, host string) messages {
	sub := func(s string) string { return strings.ReplaceAll(s, "<hostname>", host) }
	return messages{
		subject: sub(p.String("subject", "AirPi alert - <hostname>")),
		sensor:  sub(p.String("msg_alertsensor", "AirPi <hostname> has experienced a sensor error. It apologises profusely.")),
		output:  sub(p.String("msg_alertoutput", "AirPi <hostname> has experienced an output error. It apologises profusely.")),
	}
}

func (m messages) text(reason types.Reason) string {
	if reason == types.ReasonOutput {
		return m.output
	}
	return m.sensor
}
