// Package mailer sends plain-text mail over SMTP.
package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Transport sends one rendered message to one recipient. Implementations
// return an error on any delivery failure; callers record it, they do not
// retry automatically.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds SMTP settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// SMTP is a go-mail backed Transport.
type SMTP struct {
	cfg    Config
	logger *zap.Logger
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg Config, logger *zap.Logger) *SMTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTP{cfg: cfg, logger: logger}
}

// Send dials the configured SMTP server and sends one message.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.FromAddress); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if s.cfg.FromName != "" {
		_ = msg.FromFormat(s.cfg.FromName, s.cfg.FromAddress)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	s.logger.Debug("mail sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
