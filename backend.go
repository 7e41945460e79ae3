package apubsub

import (
	"context"
	"slices"
	"time"
)

// Backend is the storage engine contract. Every engine in this module
// satisfies it identically; see the brokertest package.
type Backend interface {
	// CreateChannel fails with ErrChannelAlreadyExists unless ignoreErrors is
	// set, in which case the existing channel is returned.
	CreateChannel(ctx context.Context, id, title string, ignoreErrors bool) (*Channel, error)
	// CreateChannels is all-or-nothing unless ignoreErrors is set.
	CreateChannels(ctx context.Context, ids []string, ignoreErrors bool) ([]*Channel, error)
	GetChannel(ctx context.Context, id string) (*Channel, error)
	// GetChannels fails with ErrChannelDoesNotExist if any id is missing.
	GetChannels(ctx context.Context, ids []string) ([]*Channel, error)
	// DeleteChannel cascades to subscriptions, their queue entries and the
	// messages left without any queue entry.
	DeleteChannel(ctx context.Context, id string, ignoreErrors bool) error
	DeleteChannels(ctx context.Context, ids []string, ignoreErrors bool) error
	FetchChannels(conds Conditions) (Cursor[*Channel], error)

	// Subscribe creates an inactive anonymous subscription when subscriber is
	// empty, or an active one owned by subscriber. A subscriber can own one
	// subscription per channel (ErrSubscriptionAlreadyExists).
	Subscribe(ctx context.Context, channelID, subscriber string) (*Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	GetSubscriptions(ctx context.Context, ids []int64) ([]*Subscription, error)
	// DeleteSubscription is a silent no-op for missing ids.
	DeleteSubscription(ctx context.Context, id int64) error
	// DeleteSubscriptions is all-or-nothing unless ignoreErrors is set.
	DeleteSubscriptions(ctx context.Context, ids []int64, ignoreErrors bool) error
	FetchSubscriptions(conds Conditions) (Cursor[*Subscription], error)

	// GetSubscriber returns the subscriber view for name; it never fails.
	GetSubscriber(name string) *Subscriber
	DeleteSubscriber(ctx context.Context, name string) error
	FetchSubscribers(conds Conditions) (Cursor[*Subscriber], error)

	// Send fans contents out to the active subscriptions of the existing
	// target channels, atomically. It returns (nil, nil) when none of the
	// channels exist.
	Send(ctx context.Context, channelIDs []string, contents any, opts ...SendOption) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	// Fetch iterates queue entries joined with their message.
	Fetch(conds Conditions) (Cursor[*Message], error)
	// SetUnread is a silent no-op for missing queue entries.
	SetUnread(ctx context.Context, queueID int64, unread bool) error

	GarbageCollection(ctx context.Context) error
	FlushCaches()
	Analysis(ctx context.Context) (Analysis, error)
}

// Analysis holds approximate counters for operational visibility.
type Analysis struct {
	Channels      int64 `json:"channels"`
	Messages      int64 `json:"messages"`
	Subscriptions int64 `json:"subscriptions"`
	Subscribers   int64 `json:"subscribers"`
	QueueSize     int64 `json:"queue_size"`
	Cached        int   `json:"cached"`
}

// SendOptions are the optional attributes of a sent message.
type SendOptions struct {
	Type     string
	Origin   string
	Level    int
	Excluded []int64
	SentAt   time.Time
}

// SendOption configures SendOptions.
type SendOption func(*SendOptions)

// NewSendOptions applies opts; SentAt defaults to now.
func NewSendOptions(now time.Time, opts ...SendOption) SendOptions {
	o := SendOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.SentAt.IsZero() {
		o.SentAt = now
	}
	return o
}

// IsExcluded reports whether subscription id must not receive the message.
func (o SendOptions) IsExcluded(id int64) bool {
	return slices.Contains(o.Excluded, id)
}

func WithType(t string) SendOption {
	return func(o *SendOptions) { o.Type = t }
}

func WithOrigin(origin string) SendOption {
	return func(o *SendOptions) { o.Origin = origin }
}

func WithLevel(level int) SendOption {
	return func(o *SendOptions) { o.Level = level }
}

// WithExcluded skips the given subscription ids during fan-out.
func WithExcluded(ids ...int64) SendOption {
	return func(o *SendOptions) { o.Excluded = append(o.Excluded, ids...) }
}

func WithSentAt(t time.Time) SendOption {
	return func(o *SendOptions) { o.SentAt = t }
}

// QueueEntry is the per-subscription delivery record of a message.
type QueueEntry struct {
	ID             int64      `json:"id" msgpack:"id"`
	MessageID      int64      `json:"msg_id" msgpack:"msg_id"`
	SubscriptionID int64      `json:"sub_id" msgpack:"sub_id"`
	Unread         bool       `json:"unread" msgpack:"unread"`
	ReadAt         *time.Time `json:"read_at,omitempty" msgpack:"read_at,omitempty"`
}

// MarkUnread applies the read-state toggle: marking read keeps the first
// read time, marking unread clears it.
func (q *QueueEntry) MarkUnread(unread bool, now time.Time) {
	q.Unread = unread
	if unread {
		q.ReadAt = nil
		return
	}
	if q.ReadAt == nil {
		t := now
		q.ReadAt = &t
	}
}

// With returns a copy of c with f set to v.
func (c Conditions) With(f Field, v any) Conditions {
	out := make(Conditions, len(c)+1)
	for k, val := range c {
		out[k] = val
	}
	out[f] = v
	return out
}
