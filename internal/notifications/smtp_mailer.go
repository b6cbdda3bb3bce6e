package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomail "gopkg.in/gomail.v2"
)

// SMTPMailer delivers messages over SMTP.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// SMTPConfig carries the transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewSMTPMailer constructs the SMTP transport.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp: host is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = DefaultSender
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, strings.TrimSpace(cfg.Username), cfg.Password),
		from:   from,
	}, nil
}

// Send delivers one message. The SMTP dial has no context support, so
// cancellation is checked before and after the blocking send.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if m == nil || m.dialer == nil {
		return errors.New("smtp: mailer not initialised")
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("smtp: recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", m.from)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/html", msg.HTML)

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(mail)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Mailer = (*SMTPMailer)(nil)
