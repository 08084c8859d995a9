package dispatch

import (
	"context"

	"github.com/biztrack/notifier/internal/model"
)

// Sender delivers rendered content over one channel type. Implementations
// are supplied by the hosting application; reference senders live in
// internal/transport.
type Sender interface {
	Send(ctx context.Context, channel model.Channel, recipients []model.Recipient, content model.Content) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, channel model.Channel, recipients []model.Recipient, content model.Content) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, channel model.Channel, recipients []model.Recipient, content model.Content) error {
	return f(ctx, channel, recipients, content)
}
