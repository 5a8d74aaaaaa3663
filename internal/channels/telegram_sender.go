package channels

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/config"
	"github.com/arterny/outboxed/internal/domain/model"
)

// TelegramSender sends notifications via a Telegram bot.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegramSender creates a new instance of TelegramSender.
func NewTelegramSender(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	return &TelegramSender{
		bot:    bot,
		logger: logger.With().Str("component", "telegram_sender").Logger(),
	}, nil
}

// Send implements Sender. The bot API client carries no deadline of its
// own, so the call runs in a goroutine raced against ctx; a timed-out call
// is reported as a plain failure.
func (s *TelegramSender) Send(ctx context.Context, n *model.Notification, payload model.Payload) bool {
	if payload.ChatID == 0 {
		s.logger.Warn().Stringer("notification_id", n.ID).Msg("missing telegram chat id")
		return false
	}

	msg := tgbotapi.NewMessage(payload.ChatID, payload.Message)
	msg.ParseMode = tgbotapi.ModeMarkdown

	errCh := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(msg)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Stringer("notification_id", n.ID).Msg("telegram send timed out")
		return false
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Stringer("notification_id", n.ID).Msg("failed to send telegram message")
			return false
		}
	}

	s.logger.Info().Stringer("notification_id", n.ID).Int64("chat_id", payload.ChatID).Msg("telegram message sent successfully")
	return true
}
