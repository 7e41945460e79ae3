package notifications

import (
	"strconv"
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// Type is the notification kind. It is stored as the message type.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Priority is stored as the message level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Action is a call-to-action attached to a notification.
type Action struct {
	Label string `json:"label" msgpack:"label"`
	URL   string `json:"url" msgpack:"url"`
	Style string `json:"style" msgpack:"style"` // primary, secondary, danger
}

// Notification is a message read through the queue of one user.
//
// ID is the broker message id, shared by every recipient of the same send.
// Read state belongs to the user's queue entry.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      Type           `json:"type"`
	Priority  Priority       `json:"priority"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Actions   []Action       `json:"actions,omitempty"`
	Read      bool           `json:"read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// IsExpired reports whether the notification is past its expiry.
func (n *Notification) IsExpired() bool {
	if n.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*n.ExpiresAt)
}

// MarkAsRead marks the in-memory copy as read.
func (n *Notification) MarkAsRead() {
	n.Read = true
	now := time.Now()
	n.ReadAt = &now
}

// payload is the message contents. Attributes the broker indexes (type,
// priority, time, read state) live on the message instead.
type payload struct {
	Title     string         `json:"title" msgpack:"title"`
	Message   string         `json:"message" msgpack:"message"`
	Data      map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
	Actions   []Action       `json:"actions,omitempty" msgpack:"actions,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" msgpack:"expires_at,omitempty"`
}

func payloadOf(n Notification) payload {
	return payload{
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Actions:   n.Actions,
		ExpiresAt: n.ExpiresAt,
	}
}

func fromMessage(userID string, m *apubsub.Message) (Notification, error) {
	var p payload
	if err := m.Unmarshal(&p); err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:        strconv.FormatInt(m.ID, 10),
		UserID:    userID,
		Type:      Type(m.Type),
		Priority:  Priority(m.Level),
		Title:     p.Title,
		Message:   p.Message,
		Data:      p.Data,
		Actions:   p.Actions,
		Read:      !m.Unread,
		CreatedAt: m.SentAt,
		ExpiresAt: p.ExpiresAt,
	}
	if !m.ReadAt.IsZero() {
		at := m.ReadAt
		n.ReadAt = &at
	}
	return n, nil
}

// ListOptions filters and paginates a user's notifications.
type ListOptions struct {
	Limit      int        // Maximum number of notifications to return (0 = no limit)
	Offset     int        // Number of notifications to skip for pagination
	OnlyUnread bool       // When true, only return unread notifications
	Types      []Type     // If specified, only return notifications of these types
	Since      *time.Time // If specified, only return notifications created after this time
}
