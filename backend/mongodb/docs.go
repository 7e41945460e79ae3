package mongodb

import (
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// Unset optional attributes are omitted, so they read as null in queries.

type channelDoc struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d channelDoc) data() apubsub.ChannelData {
	return apubsub.ChannelData{ID: d.ID, Title: d.Title, CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC()}
}

type subscriptionDoc struct {
	ID            int64      `bson:"_id"`
	ChannelID     string     `bson:"chan_id"`
	Subscriber    string     `bson:"subscriber,omitempty"`
	Active        bool       `bson:"active"`
	CreatedAt     time.Time  `bson:"created_at"`
	ActivatedAt   *time.Time `bson:"activated_at,omitempty"`
	DeactivatedAt *time.Time `bson:"deactivated_at,omitempty"`
	AccessedAt    *time.Time `bson:"accessed_at,omitempty"`
}

func newSubscriptionDoc(d apubsub.SubscriptionData) subscriptionDoc {
	return subscriptionDoc{
		ID:            d.ID,
		ChannelID:     d.ChannelID,
		Subscriber:    d.Subscriber,
		Active:        d.Active,
		CreatedAt:     d.CreatedAt,
		ActivatedAt:   timePtr(d.ActivatedAt),
		DeactivatedAt: timePtr(d.DeactivatedAt),
		AccessedAt:    timePtr(d.AccessedAt),
	}
}

func (d subscriptionDoc) data() apubsub.SubscriptionData {
	return apubsub.SubscriptionData{
		ID:            d.ID,
		ChannelID:     d.ChannelID,
		Subscriber:    d.Subscriber,
		Active:        d.Active,
		CreatedAt:     d.CreatedAt.UTC(),
		ActivatedAt:   deref(d.ActivatedAt),
		DeactivatedAt: deref(d.DeactivatedAt),
		AccessedAt:    deref(d.AccessedAt),
	}
}

type messageDoc struct {
	ID         int64     `bson:"_id"`
	ChannelIDs []string  `bson:"chan_ids"`
	Contents   []byte    `bson:"contents"`
	Type       string    `bson:"type,omitempty"`
	Level      int64     `bson:"level"`
	Origin     string    `bson:"origin,omitempty"`
	SentAt     time.Time `bson:"sent_at"`
}

func (d messageDoc) data() apubsub.MessageData {
	return apubsub.MessageData{
		ID:         d.ID,
		ChannelIDs: d.ChannelIDs,
		Contents:   d.Contents,
		Type:       d.Type,
		Level:      int(d.Level),
		Origin:     d.Origin,
		SentAt:     d.SentAt.UTC(),
	}
}

// queueDoc is a queue entry with copies of the attributes message cursors
// filter and sort on.
type queueDoc struct {
	ID             int64      `bson:"_id"`
	MessageID      int64      `bson:"msg_id"`
	SubscriptionID int64      `bson:"sub_id"`
	ChannelID      string     `bson:"chan_id"`
	Subscriber     string     `bson:"subscriber,omitempty"`
	Unread         bool       `bson:"unread"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`
	SentAt         time.Time  `bson:"sent_at"`
	Type           string     `bson:"type,omitempty"`
	Level          int64      `bson:"level"`
	Origin         string     `bson:"origin,omitempty"`
}

// project returns m as seen through the entry.
func (q queueDoc) project(m messageDoc) apubsub.MessageData {
	d := m.data()
	d.QueueID = q.ID
	d.SubscriptionID = q.SubscriptionID
	d.ChannelID = q.ChannelID
	d.Subscriber = q.Subscriber
	d.Unread = q.Unread
	d.ReadAt = deref(q.ReadAt)
	return d
}

type idDoc[K any] struct {
	ID K `bson:"_id"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
