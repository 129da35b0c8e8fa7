package services

import (
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"trust-payments/config"
	apperr "trust-payments/errors"
	"trust-payments/logger"
)

type Attachment struct {
	Name    string
	Content []byte
}

type Email struct {
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Mailer sends one email.
type Mailer interface {
	Send(email Email) error
}

// ErrMailDisabled is returned when SMTP credentials are not configured.
var ErrMailDisabled = apperr.E(apperr.Config, "smtp credentials not configured (set SMTP_USER and SMTP_PASS)")

// SMTPMailer sends email directly via SMTP.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg}
	if cfg.Enabled() {
		m.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	}
	return m
}

func (m *SMTPMailer) Enabled() bool { return m.dialer != nil }

func (m *SMTPMailer) Send(email Email) error {
	if m.dialer == nil {
		return ErrMailDisabled
	}
	if email.To == "" {
		return apperr.E(apperr.Invalid, "email recipient is required")
	}

	logger.Info("[EMAIL] Sending via SMTP - Recipient: %s", email.To)

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.Sender())
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/html", email.HTMLBody)

	for _, a := range email.Attachments {
		content := a.Content
		msg.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}))
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", email.To, err)
	}

	logger.Info("[EMAIL] Sent to: %s", email.To)
	return nil
}
