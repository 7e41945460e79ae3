package pgsql

import (
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

type channelRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r channelRow) data() apubsub.ChannelData {
	return apubsub.ChannelData{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

type subscriptionRow struct {
	ID            int64      `db:"id"`
	ChanID        string     `db:"chan_id"`
	Subscriber    *string    `db:"subscriber"`
	IsActive      bool       `db:"is_active"`
	CreatedAt     time.Time  `db:"created_at"`
	ActivatedAt   *time.Time `db:"activated_at"`
	DeactivatedAt *time.Time `db:"deactivated_at"`
	AccessedAt    *time.Time `db:"accessed_at"`
}

func (r subscriptionRow) data() apubsub.SubscriptionData {
	return apubsub.SubscriptionData{
		ID:            r.ID,
		ChannelID:     r.ChanID,
		Subscriber:    deref(r.Subscriber),
		Active:        r.IsActive,
		CreatedAt:     r.CreatedAt,
		ActivatedAt:   derefTime(r.ActivatedAt),
		DeactivatedAt: derefTime(r.DeactivatedAt),
		AccessedAt:    derefTime(r.AccessedAt),
	}
}

type messageRow struct {
	ID       int64     `db:"id"`
	ChanIDs  []string  `db:"chan_ids"`
	Contents []byte    `db:"contents"`
	Type     *string   `db:"type"`
	Level    int32     `db:"level"`
	Origin   *string   `db:"origin"`
	SentAt   time.Time `db:"sent_at"`
}

func (r messageRow) data() apubsub.MessageData {
	return apubsub.MessageData{
		ID:         r.ID,
		ChannelIDs: r.ChanIDs,
		Contents:   r.Contents,
		Type:       deref(r.Type),
		Level:      int(r.Level),
		Origin:     deref(r.Origin),
		SentAt:     r.SentAt,
	}
}

// queueRow is a queue entry joined with its message and subscription.
type queueRow struct {
	messageRow
	QueueID    int64      `db:"queue_id"`
	SubID      int64      `db:"sub_id"`
	ChanID     string     `db:"chan_id"`
	Subscriber *string    `db:"subscriber"`
	Unread     bool       `db:"unread"`
	ReadAt     *time.Time `db:"read_at"`
}

func (r queueRow) data() apubsub.MessageData {
	d := r.messageRow.data()
	d.QueueID = r.QueueID
	d.SubscriptionID = r.SubID
	d.ChannelID = r.ChanID
	d.Subscriber = deref(r.Subscriber)
	d.Unread = r.Unread
	d.ReadAt = derefTime(r.ReadAt)
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
