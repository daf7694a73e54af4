// Package notify delivers alert messages to users.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier sends one message. A nil error means the provider accepted it.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of sending them. It is
// used when no outbound provider is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("outbound email (not sent, no provider configured)")
	return nil
}
