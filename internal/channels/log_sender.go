package channels

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/domain/model"
)

// LogSender stands in for a real transport in development. It always
// reports success, which is useful for exercising the ingress and
// sibling-short-circuit paths without any external dependency.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a new instance of LogSender.
func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_sender").Logger()}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, n *model.Notification, payload model.Payload) bool {
	s.logger.Info().
		Stringer("notification_id", n.ID).
		Str("subject", n.Title).
		Interface("payload", payload).
		Msg(">>> MOCK SEND: notification dispatched")
	return true
}
