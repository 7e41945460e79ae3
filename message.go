package apubsub

import (
	"context"
	"fmt"
	"time"
)

// MessageData is a sent message, optionally projected through one queue
// entry. The queue fields are zero for messages loaded with GetMessage.
type MessageData struct {
	ID         int64
	ChannelIDs []string
	Contents   []byte
	Type       string
	Level      int
	Origin     string
	SentAt     time.Time

	QueueID        int64
	SubscriptionID int64
	ChannelID      string
	Subscriber     string
	Unread         bool
	ReadAt         time.Time
}

// Message is immutable once sent; only the read state of its queue entry changes.
type Message struct {
	MessageData
	backend Backend
	codec   Codec
}

// NewMessage binds d to b. A nil codec falls back to JSON.
func NewMessage(b Backend, codec Codec, d MessageData) *Message {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Message{MessageData: d, backend: b, codec: codec}
}

func (m *Message) Backend() Backend { return m.backend }

// Unmarshal decodes the contents into v.
func (m *Message) Unmarshal(v any) error {
	return m.codec.Unmarshal(m.Contents, v)
}

// SetUnread toggles the read state of the queue entry this message was fetched through.
func (m *Message) SetUnread(ctx context.Context, unread bool) error {
	if m.QueueID == 0 {
		return fmt.Errorf("%w: message %d was not fetched through a queue", ErrInvalidState, m.ID)
	}
	if err := m.backend.SetUnread(ctx, m.QueueID, unread); err != nil {
		return err
	}
	m.Unread = unread
	if unread {
		m.ReadAt = time.Time{}
	} else if m.ReadAt.IsZero() {
		m.ReadAt = time.Now()
	}
	return nil
}

// Delete removes the queue entry this message was fetched through.
func (m *Message) Delete(ctx context.Context) error {
	if m.QueueID == 0 {
		return fmt.Errorf("%w: message %d was not fetched through a queue", ErrInvalidState, m.ID)
	}
	cursor, err := m.backend.Fetch(Conditions{FieldQueueID: m.QueueID})
	if err != nil {
		return err
	}
	return cursor.Delete(ctx)
}
