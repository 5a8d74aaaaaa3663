package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/arterny/outboxed/internal/domain/model"
)

// CreateNotificationRequest defines the structure for a new notification
// request.
type CreateNotificationRequest struct {
	UserID     int64    `json:"user_id" binding:"required"`
	Title      string   `json:"title" binding:"required"`
	Message    string   `json:"message" binding:"required"`
	Type       string   `json:"type,omitempty"`
	Methods    []string `json:"methods,omitempty"`
	TriggerNow bool     `json:"trigger_now,omitempty"`
}

// NotificationResponse defines the structure for a standard notification response.
type NotificationResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsSent    bool      `json:"is_sent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatsResponse mirrors model.Stats for the control-plane /stats endpoint.
type StatsResponse struct {
	Notifications     int64            `json:"notifications"`
	NotificationsSent int64            `json:"notifications_sent"`
	ByStatus          map[string]int64 `json:"by_status"`
	ByMethod          map[string]int64 `json:"by_method"`
}

// ErrorResponse defines a standard structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func toNotificationResponse(n *model.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		IsSent:    n.IsSent,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toStatsResponse(s model.Stats) StatsResponse {
	resp := StatsResponse{
		Notifications:     s.Notifications,
		NotificationsSent: s.NotificationsSent,
		ByStatus:          make(map[string]int64, len(s.ByStatus)),
		ByMethod:          make(map[string]int64, len(s.ByMethod)),
	}
	for k, v := range s.ByStatus {
		resp.ByStatus[string(k)] = v
	}
	for k, v := range s.ByMethod {
		resp.ByMethod[string(k)] = v
	}
	return resp
}

func toMethods(raw []string) []model.Method {
	if raw == nil {
		return nil
	}
	methods := make([]model.Method, len(raw))
	for i, m := range raw {
		methods[i] = model.Method(m)
	}
	return methods
}
