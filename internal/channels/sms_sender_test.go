package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arterny/outboxed/internal/config"
	"github.com/arterny/outboxed/internal/domain/model"
)

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"89991234567", "+79991234567"},
		{"79991234567", "+79991234567"},
		{"+7 (999) 123-45-67", "+79991234567"},
		{"8 999 123 45 67", "+79991234567"},
		{"", ""},
		{"12025550123", "12025550123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPhone(tt.in), "input %q", tt.in)
	}
}

func TestSMSSender_Send(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-api-id", r.Form.Get("api_id"))
		phone := r.Form.Get("to")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "OK",
			"sms":    map[string]any{phone: map[string]string{"status": "OK"}},
		})
	}))
	defer gateway.Close()

	logger := zerolog.Nop()
	s := NewSMSSender(config.SMSConfig{APIURL: gateway.URL, APIID: "test-api-id"}, &logger)

	n := &model.Notification{UserID: 1, Title: "T", Message: "M"}
	ok := s.Send(context.Background(), n, model.Payload{Phone: "89991234567", Message: "T: M"})
	assert.True(t, ok)
}

func TestSMSSender_MissingPhoneFails(t *testing.T) {
	logger := zerolog.Nop()
	s := NewSMSSender(config.SMSConfig{APIURL: "http://unused.invalid"}, &logger)

	n := &model.Notification{UserID: 1, Title: "T", Message: "M"}
	assert.False(t, s.Send(context.Background(), n, model.Payload{Message: "T: M"}))
}

func TestSMSSender_GatewayRejection(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ERROR"})
	}))
	defer gateway.Close()

	logger := zerolog.Nop()
	s := NewSMSSender(config.SMSConfig{APIURL: gateway.URL}, &logger)

	n := &model.Notification{UserID: 1, Title: "T", Message: "M"}
	assert.False(t, s.Send(context.Background(), n, model.Payload{Phone: "89991234567", Message: "T: M"}))
}

func TestDispatcher_RoutesByMethod(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &config.Config{Notifiers: config.NotifiersConfig{Mode: "development"}}

	d, err := NewDispatcher(cfg, &logger)
	require.NoError(t, err)

	n := &model.Notification{UserID: 1, Title: "T", Message: "M"}
	// development mode wires the log sender everywhere, which always succeeds
	assert.True(t, d.Send(context.Background(), model.MethodEmail, n, model.Payload{}))
	assert.True(t, d.Send(context.Background(), model.MethodSMS, n, model.Payload{}))
	assert.True(t, d.Send(context.Background(), model.MethodTelegram, n, model.Payload{}))

	assert.False(t, d.Send(context.Background(), "CARRIER_PIGEON", n, model.Payload{}),
		"unregistered method must fail, not panic")
}
