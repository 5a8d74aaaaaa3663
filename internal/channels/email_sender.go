package channels

import (
	"context"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/arterny/outboxed/internal/config"
	"github.com/arterny/outboxed/internal/domain/model"
)

// EmailSender sends notifications via SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	logger zerolog.Logger
}

// NewEmailSender creates a new instance of EmailSender.
func NewEmailSender(cfg config.EmailConfig, logger *zerolog.Logger) *EmailSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailSender{
		dialer: d,
		from:   cfg.From,
		logger: logger.With().Str("component", "email_sender").Logger(),
	}
}

// Send implements Sender. A missing recipient is treated as a send failure,
// which flows into the normal retry/fallback machinery. DialAndSend carries
// no deadline of its own, so it runs in a goroutine raced against ctx; a
// timed-out dial is reported as a plain failure.
func (s *EmailSender) Send(ctx context.Context, n *model.Notification, payload model.Payload) bool {
	if payload.ToEmail == "" {
		s.logger.Warn().Stringer("notification_id", n.ID).Msg("missing recipient email")
		return false
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", payload.ToEmail)
	m.SetHeader("Subject", payload.Subject)
	m.SetBody("text/plain", payload.Message)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Stringer("notification_id", n.ID).Msg("email send timed out")
		return false
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Stringer("notification_id", n.ID).Msg("failed to send email")
			return false
		}
	}

	s.logger.Info().Stringer("notification_id", n.ID).Str("recipient", payload.ToEmail).Msg("email sent successfully")
	return true
}
