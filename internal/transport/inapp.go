package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

// InAppSender publishes notifications on per-recipient JetStream
// subjects; the console's UI layer subscribes to them for badges and
// toasts.
type InAppSender struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewInAppSender creates an in-app sender.
func NewInAppSender(logger *zap.Logger, js nats.JetStreamContext) *InAppSender {
	return &InAppSender{
		logger: logger.Named("inapp-sender"),
		js:     js,
	}
}

type inAppMessage struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// Send implements dispatch.Sender.
func (s *InAppSender) Send(ctx context.Context, _ model.Channel, recipients []model.Recipient, content model.Content) error {
	for _, recipient := range recipients {
		msg := inAppMessage{
			Recipient: recipient.Identifier,
			Subject:   content.Subject,
			Body:      content.Body,
			SentAt:    time.Now(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal in-app message: %w", err)
		}

		if _, err := s.js.Publish("notify.inapp."+recipient.Identifier, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish in-app message: %w", err)
		}
	}

	s.logger.Debug("In-app notifications published",
		zap.Int("recipients", len(recipients)))
	return nil
}
