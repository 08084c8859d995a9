// Package transport provides reference channel senders for the hosting
// application: SMTP email, generic webhook, Slack-style webhook, and
// in-app delivery over JetStream. SMS and push are left to the host.
package transport

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	logger *zap.Logger
	config EmailConfig
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(logger *zap.Logger, config EmailConfig) *EmailSender {
	return &EmailSender{
		logger: logger.Named("email-sender"),
		config: config,
	}
}

// Send implements dispatch.Sender.
func (s *EmailSender) Send(ctx context.Context, _ model.Channel, recipients []model.Recipient, content model.Content) error {
	addresses := emailAddresses(recipients)
	if len(addresses) == 0 {
		return fmt.Errorf("no email recipients resolved")
	}

	body := content.Body
	contentType := "text/plain; charset=UTF-8"
	if content.HTMLBody != "" {
		body = content.HTMLBody
		contentType = "text/html; charset=UTF-8"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: %s\r\n"+
		"\r\n"+
		"%s\r\n",
		s.config.From,
		strings.Join(addresses, ", "),
		content.Subject,
		contentType,
		body)

	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.logger.Info("Sending email",
		zap.Int("recipients", len(addresses)),
		zap.String("subject", content.Subject))

	return smtp.SendMail(addr, auth, s.config.From, addresses, []byte(msg))
}

// emailAddresses keeps only recipients that look like addresses; role
// and group recipients must be expanded by the host before dispatch.
func emailAddresses(recipients []model.Recipient) []string {
	var out []string
	for _, r := range recipients {
		if r.Type == model.RecipientEmail || strings.Contains(r.Identifier, "@") {
			out = append(out, r.Identifier)
		}
	}
	return out
}
