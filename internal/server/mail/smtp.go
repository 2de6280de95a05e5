package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SubjectPrefix string
	// TLS is one of "mandatory", "opportunistic" or "none".
	TLS string
}

// SMTPSink sends rendered messages through an SMTP relay.
type SMTPSink struct {
	cfg    SMTPConfig
	client *gomail.Client
}

func NewSMTPSink(cfg SMTPConfig) (*SMTPSink, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSink{cfg: cfg, client: client}, nil
}

func tlsPolicy(s string) gomail.TLSPolicy {
	switch s {
	case "mandatory":
		return gomail.TLSMandatory
	case "none":
		return gomail.NoTLS
	}
	return gomail.TLSOpportunistic
}

// Build renders msg into a go-mail message.
func (s *SMTPSink) Build(msg Message) (*gomail.Msg, error) {
	subject, body, err := Render(msg)
	if err != nil {
		return nil, err
	}

	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, fmt.Errorf("cc: %w", err)
		}
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return nil, fmt.Errorf("bcc: %w", err)
		}
	}
	m.Subject(s.cfg.SubjectPrefix + subject)
	m.SetBodyString(gomail.TypeTextPlain, body)
	return m, nil
}

func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	m, err := s.Build(msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send %s: %w", msg.Template, err)
	}
	return nil
}
