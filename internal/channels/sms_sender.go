package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/config"
	"github.com/arterny/outboxed/internal/domain/model"
)

// SMSSender posts to an SMS.ru-style HTTP gateway. A circuit breaker wraps
// the HTTP call so a run of transient gateway failures fails fast instead
// of burning the channel timeout on every retry attempt.
type SMSSender struct {
	cfg    config.SMSConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker[bool]
	logger zerolog.Logger
}

// NewSMSSender creates a new instance of SMSSender.
func NewSMSSender(cfg config.SMSConfig, logger *zerolog.Logger) *SMSSender {
	log := logger.With().Str("component", "sms_sender").Logger()

	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "sms-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("sms circuit breaker state change")
		},
	})

	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{},
		cb:     cb,
		logger: log,
	}
}

// Send implements Sender.
func (s *SMSSender) Send(ctx context.Context, n *model.Notification, payload model.Payload) bool {
	phone := formatPhone(payload.Phone)
	if phone == "" {
		s.logger.Warn().Stringer("notification_id", n.ID).Msg("missing recipient phone")
		return false
	}

	ok, err := s.cb.Execute(func() (bool, error) {
		return s.post(ctx, phone, payload.Message)
	})
	if err != nil {
		s.logger.Error().Err(err).Stringer("notification_id", n.ID).Msg("sms send failed")
		return false
	}
	if ok {
		s.logger.Info().Stringer("notification_id", n.ID).Str("phone", phone).Msg("sms sent successfully")
	}
	return ok
}

func (s *SMSSender) post(ctx context.Context, phone, message string) (bool, error) {
	form := url.Values{
		"api_id": {s.cfg.APIID},
		"to":     {phone},
		"msg":    {message},
		"json":   {"1"},
		"from":   {s.cfg.From},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("sms gateway: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
		SMS    map[string]struct {
			Status string `json:"status"`
		} `json:"sms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	if result.Status != "OK" {
		return false, nil
	}
	entry, ok := result.SMS[phone]
	return ok && entry.Status == "OK", nil
}

// formatPhone normalizes Russian-style mobile numbers to E.164.
func formatPhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()

	if strings.HasPrefix(cleaned, "89") && len(cleaned) == 11 {
		return "+7" + cleaned[1:]
	}
	if strings.HasPrefix(cleaned, "79") && len(cleaned) == 11 {
		return "+" + cleaned
	}
	return cleaned
}
