// Package fallback implements the deterministic delivery-method chain and
// the per-method payload construction.
package fallback

import (
	"context"
	"fmt"

	"github.com/arterny/outboxed/internal/domain/model"
	"github.com/arterny/outboxed/internal/domain/repository"
)

// Chain is the canonical fallback order. A notification created without an
// explicit methods list starts at Chain[0].
var Chain = []model.Method{model.MethodSMS, model.MethodTelegram, model.MethodEmail}

// Next returns the method that follows current in the chain and true, or the
// zero value and false if current is the last link.
func Next(current model.Method) (model.Method, bool) {
	for i, m := range Chain {
		if m == current && i+1 < len(Chain) {
			return Chain[i+1], true
		}
	}
	return "", false
}

// BuildPayload composes a Payload for method from the notification and the
// recipient details resolved through dir. Missing contact fields yield a
// payload with empty slots; the ChannelSender is responsible for failing
// those attempts.
func BuildPayload(dir repository.ContactDirectory) repository.PayloadBuilder {
	return func(ctx context.Context, n *model.Notification, method model.Method) (model.Payload, error) {
		switch method {
		case model.MethodEmail:
			to, _ := dir.Email(ctx, n.UserID)
			return model.Payload{
				ToEmail: to,
				Subject: n.Title,
				Message: n.Message,
			}, nil
		case model.MethodSMS:
			phone, _ := dir.Phone(ctx, n.UserID)
			return model.Payload{
				Phone:   phone,
				Message: fmt.Sprintf("%s: %s", n.Title, n.Message),
			}, nil
		case model.MethodTelegram:
			chatID, _ := dir.TelegramChatID(ctx, n.UserID)
			return model.Payload{
				ChatID:  chatID,
				Message: fmt.Sprintf("*%s*\n%s", n.Title, n.Message),
			}, nil
		default:
			return model.Payload{}, fmt.Errorf("fallback: unsupported method %q", method)
		}
	}
}
