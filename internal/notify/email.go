package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// mailSender is the part of mail.Client used here.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

type email struct {
	msgs     messages
	from     string
	fromName string
	to       []string
	client   mailSender
}

func newEmail(p config.Params, msgs messages) (*email, error) {
	server, err := p.RequiredString("server")
	if err != nil {
		return nil, err
	}
	from, err := p.RequiredString("from")
	if err != nil {
		return nil, err
	}
	to, err := p.Strings("to")
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, &config.MissingParamError{Key: "to"}
	}
	port, err := p.Int("port", 587)
	if err != nil {
		return nil, err
	}
	useTLS, err := p.Bool("tls", true)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{mail.WithPort(port)}
	if useTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if user := p.String("username", ""); user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user),
			mail.WithPassword(p.Secret("password")))
	}
	c, err := mail.NewClient(server, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &email{
		msgs:     msgs,
		from:     from,
		fromName: p.String("from_name", "AirPi"),
		to:       to,
		client:   c,
	}, nil
}

func (e *email) compose(reason types.Reason) (*mail.Msg, error) {
	m := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := m.FromFormat(e.fromName, e.from); err != nil {
		return nil, err
	}
	if err := m.To(e.to...); err != nil {
		return nil, err
	}
	m.SetImportance(mail.ImportanceHigh)
	m.Subject(e.msgs.subject)
	m.SetBodyString(mail.TypeTextPlain, e.msgs.text(reason))
	return m, nil
}

func (e *email) send(ctx context.Context, reason types.Reason) error {
	m, err := e.compose(reason)
	if err != nil {
		return err
	}
	return e.client.DialAndSendWithContext(ctx, m)
}
