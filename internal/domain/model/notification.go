package model

import (
	"time"

	"github.com/google/uuid"
)

// Method identifies a delivery channel for an OutboxMessage.
type Method string

const (
	MethodEmail    Method = "EMAIL"
	MethodSMS      Method = "SMS"
	MethodTelegram Method = "TELEGRAM"
)

// Valid reports whether m is one of the known delivery methods.
func (m Method) Valid() bool {
	switch m {
	case MethodEmail, MethodSMS, MethodTelegram:
		return true
	default:
		return false
	}
}

// Type classifies a Notification for client-side rendering. The dispatcher
// never branches on it.
type Type string

const (
	TypeInfo    Type = "INFO"
	TypeWarning Type = "WARNING"
	TypeError   Type = "ERROR"
	TypeSuccess Type = "SUCCESS"
)

// Status is the lifecycle state of an OutboxMessage.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusEnqueued Status = "ENQUEUED"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether s is an absorbing state: no transition ever
// leaves SENT or FAILED.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Notification is the root aggregate the user sees. It owns one or more
// OutboxMessage rows representing the delivery attempts across channels.
type Notification struct {
	ID        uuid.UUID
	UserID    int64
	Title     string
	Message   string
	Type      Type
	IsSent    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewNotification constructs a Notification ready to be persisted. Title
// length and other request-shape validation happen in the service layer.
func NewNotification(userID int64, title, message string, typ Type) *Notification {
	now := time.Now().UTC()
	if typ == "" {
		typ = TypeInfo
	}
	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		IsSent:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Payload is the opaque, method-shaped blob built at outbox-row creation time
// and never mutated afterward. Unused fields for a given method stay at
// their zero value and are omitted from the persisted JSON.
type Payload struct {
	ToEmail string `json:"to_email,omitempty"`
	Subject string `json:"subject,omitempty"`
	Phone   string `json:"phone,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// OutboxMessage is a single delivery attempt record belonging to a Notification.
type OutboxMessage struct {
	ID              uuid.UUID
	NotificationID  uuid.UUID
	Method          Method
	Status          Status
	Payload         Payload
	AttemptCount    int
	MaxRetries      int
	LastAttempt     *time.Time
	StatusChangedAt time.Time
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanRetry reports whether attempt_count is still below max_retries.
func (m *OutboxMessage) CanRetry() bool {
	return m.AttemptCount < m.MaxRetries
}

// NewOutboxMessage constructs a PENDING outbox row for method with the given payload.
func NewOutboxMessage(notificationID uuid.UUID, method Method, payload Payload, maxRetries int) *OutboxMessage {
	now := time.Now().UTC()
	return &OutboxMessage{
		ID:              uuid.New(),
		NotificationID:  notificationID,
		Method:          method,
		Status:          StatusPending,
		Payload:         payload,
		AttemptCount:    0,
		MaxRetries:      maxRetries,
		StatusChangedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Stats is a point-in-time snapshot of outbox/notification counts, backing
// the control-plane /stats endpoint.
type Stats struct {
	Notifications     int64
	NotificationsSent int64
	ByStatus          map[Status]int64
	ByMethod          map[Method]int64
}
