// Package channels provides ChannelSender implementations for each delivery
// method, plus the Dispatcher that routes by method.
package channels

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/config"
	"github.com/arterny/outboxed/internal/domain/model"
	"github.com/arterny/outboxed/internal/domain/repository"
)

// Sender is implemented by each concrete channel. It is the unit the
// Dispatcher routes to; the core only ever calls Dispatcher.Send.
type Sender interface {
	Send(ctx context.Context, n *model.Notification, payload model.Payload) bool
}

// Dispatcher is a composite ChannelSender that routes by method. It
// implements repository.ChannelSender itself.
type Dispatcher struct {
	senders map[model.Method]Sender
	logger  zerolog.Logger
}

var _ repository.ChannelSender = (*Dispatcher)(nil)

// NewDispatcher wires one Sender per method based on the application's
// configuration mode. Outside "production" mode (or whenever a channel's
// own config is empty) a LogSender stands in, so local development needs no
// real transports.
func NewDispatcher(cfg *config.Config, logger *zerolog.Logger) (*Dispatcher, error) {
	log := logger.With().Str("component", "dispatcher").Logger()
	log.Info().Str("mode", cfg.Notifiers.Mode).Msg("initializing channel senders")

	logSender := NewLogSender(logger)
	senders := map[model.Method]Sender{
		model.MethodEmail:    logSender,
		model.MethodSMS:      logSender,
		model.MethodTelegram: logSender,
	}

	if cfg.Notifiers.Mode == "production" {
		if cfg.Notifiers.Email.Host != "" {
			senders[model.MethodEmail] = NewEmailSender(cfg.Notifiers.Email, logger)
			log.Info().Msg("email sender enabled")
		}
		if cfg.Notifiers.SMS.APIURL != "" {
			senders[model.MethodSMS] = NewSMSSender(cfg.Notifiers.SMS, logger)
			log.Info().Msg("sms sender enabled")
		}
		if cfg.Notifiers.Telegram.BotToken != "" {
			tg, err := NewTelegramSender(cfg.Notifiers.Telegram, logger)
			if err != nil {
				return nil, err
			}
			senders[model.MethodTelegram] = tg
			log.Info().Msg("telegram sender enabled")
		}
	}

	return &Dispatcher{senders: senders, logger: log}, nil
}

// Send implements repository.ChannelSender. Callers never inspect errors
// beyond the boolean outcome.
func (d *Dispatcher) Send(ctx context.Context, method model.Method, n *model.Notification, payload model.Payload) bool {
	sender, ok := d.senders[method]
	if !ok {
		d.logger.Error().Str("method", string(method)).Msg("no sender registered for method")
		return false
	}
	return sender.Send(ctx, n, payload)
}
