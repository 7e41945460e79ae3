package redisdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// mgetBatch bounds the number of keys per MGET.
const mgetBatch = 512

// Times are stored as unix nanoseconds, zero meaning unset.
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type channelRecord struct {
	ID      string `msgpack:"id"`
	Title   string `msgpack:"title,omitempty"`
	Created int64  `msgpack:"created"`
	Updated int64  `msgpack:"updated"`
}

func newChannelRecord(d *apubsub.ChannelData) channelRecord {
	return channelRecord{ID: d.ID, Title: d.Title, Created: unix(d.CreatedAt), Updated: unix(d.UpdatedAt)}
}

func (r channelRecord) data() *apubsub.ChannelData {
	return &apubsub.ChannelData{ID: r.ID, Title: r.Title, CreatedAt: fromUnix(r.Created), UpdatedAt: fromUnix(r.Updated)}
}

type subscriptionRecord struct {
	ID          int64  `msgpack:"id"`
	ChannelID   string `msgpack:"chan"`
	Subscriber  string `msgpack:"subscriber,omitempty"`
	Active      bool   `msgpack:"active"`
	Created     int64  `msgpack:"created"`
	Activated   int64  `msgpack:"activated,omitempty"`
	Deactivated int64  `msgpack:"deactivated,omitempty"`
	Accessed    int64  `msgpack:"accessed,omitempty"`
}

func newSubscriptionRecord(d *apubsub.SubscriptionData) subscriptionRecord {
	return subscriptionRecord{
		ID:          d.ID,
		ChannelID:   d.ChannelID,
		Subscriber:  d.Subscriber,
		Active:      d.Active,
		Created:     unix(d.CreatedAt),
		Activated:   unix(d.ActivatedAt),
		Deactivated: unix(d.DeactivatedAt),
		Accessed:    unix(d.AccessedAt),
	}
}

func (r subscriptionRecord) data() *apubsub.SubscriptionData {
	return &apubsub.SubscriptionData{
		ID:            r.ID,
		ChannelID:     r.ChannelID,
		Subscriber:    r.Subscriber,
		Active:        r.Active,
		CreatedAt:     fromUnix(r.Created),
		ActivatedAt:   fromUnix(r.Activated),
		DeactivatedAt: fromUnix(r.Deactivated),
		AccessedAt:    fromUnix(r.Accessed),
	}
}

type messageRecord struct {
	ID         int64    `msgpack:"id"`
	ChannelIDs []string `msgpack:"chans"`
	Contents   []byte   `msgpack:"contents"`
	Type       string   `msgpack:"type,omitempty"`
	Level      int      `msgpack:"level,omitempty"`
	Origin     string   `msgpack:"origin,omitempty"`
	Sent       int64    `msgpack:"sent"`
}

func newMessageRecord(d *apubsub.MessageData) messageRecord {
	return messageRecord{
		ID:         d.ID,
		ChannelIDs: d.ChannelIDs,
		Contents:   d.Contents,
		Type:       d.Type,
		Level:      d.Level,
		Origin:     d.Origin,
		Sent:       unix(d.SentAt),
	}
}

func (r messageRecord) data() *apubsub.MessageData {
	return &apubsub.MessageData{
		ID:         r.ID,
		ChannelIDs: r.ChannelIDs,
		Contents:   r.Contents,
		Type:       r.Type,
		Level:      r.Level,
		Origin:     r.Origin,
		SentAt:     fromUnix(r.Sent),
	}
}

type queueRecord struct {
	ID             int64 `msgpack:"id"`
	MessageID      int64 `msgpack:"msg"`
	SubscriptionID int64 `msgpack:"sub"`
	Unread         bool  `msgpack:"unread"`
	ReadAt         int64 `msgpack:"read_at,omitempty"`
}

func newQueueRecord(q *apubsub.QueueEntry) queueRecord {
	r := queueRecord{ID: q.ID, MessageID: q.MessageID, SubscriptionID: q.SubscriptionID, Unread: q.Unread}
	if q.ReadAt != nil {
		r.ReadAt = unix(*q.ReadAt)
	}
	return r
}

func (r queueRecord) data() *apubsub.QueueEntry {
	q := &apubsub.QueueEntry{ID: r.ID, MessageID: r.MessageID, SubscriptionID: r.SubscriptionID, Unread: r.Unread}
	if r.ReadAt != 0 {
		t := fromUnix(r.ReadAt)
		q.ReadAt = &t
	}
	return q
}

func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("redis encode record: %w", err)
	}
	return data, nil
}

// mget loads raw values in batches, nil for missing keys.
func mget(ctx context.Context, r reader, keys []string) ([]any, error) {
	out := make([]any, 0, len(keys))
	for start := 0; start < len(keys); start += mgetBatch {
		end := min(start+mgetBatch, len(keys))
		vals, err := r.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		out = append(out, vals...)
	}
	return out, nil
}

// loadRecords decodes the values stored at keys, skipping missing ones.
func loadRecords[R any](ctx context.Context, r reader, keys []string) ([]R, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := mget(ctx, r, keys)
	if err != nil {
		return nil, err
	}
	out := make([]R, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec R
		if err := msgpack.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("redis decode %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// loadRecord decodes the value at key; found is false when it is missing.
func loadRecord[R any](ctx context.Context, r reader, key string) (rec R, found bool, err error) {
	data, err := r.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return rec, true, nil
}

// members returns the integer members of a set.
func members(ctx context.Context, r reader, key string) ([]int64, error) {
	vals, err := r.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return parseIDs(vals)
}

func parseIDs(vals []string) ([]int64, error) {
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis parse id %q: %w", v, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (b *Backend) keysOf(ids []int64, key func(int64) string) []string {
	keys := make([]string, len(ids))
	for i, n := range ids {
		keys[i] = key(n)
	}
	return keys
}

func (b *Backend) loadChannels(ctx context.Context, r reader, ids []string) (map[string]*apubsub.ChannelData, error) {
	keys := make([]string, len(ids))
	for i, ch := range ids {
		keys[i] = b.chanKey(ch)
	}
	recs, err := loadRecords[channelRecord](ctx, r, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*apubsub.ChannelData, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec.data()
	}
	return out, nil
}

func (b *Backend) allChannels(ctx context.Context, r reader) ([]*apubsub.ChannelData, error) {
	ids, err := r.SMembers(ctx, b.chansKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers channels: %w", err)
	}
	byID, err := b.loadChannels(ctx, r, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*apubsub.ChannelData, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	return out, nil
}

func (b *Backend) loadSubscriptions(ctx context.Context, r reader, ids []int64) (map[int64]*apubsub.SubscriptionData, error) {
	recs, err := loadRecords[subscriptionRecord](ctx, r, b.keysOf(ids, b.subKey))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*apubsub.SubscriptionData, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec.data()
	}
	return out, nil
}

func (b *Backend) loadMessages(ctx context.Context, r reader, ids []int64) (map[int64]*apubsub.MessageData, error) {
	recs, err := loadRecords[messageRecord](ctx, r, b.keysOf(ids, b.msgKey))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*apubsub.MessageData, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec.data()
	}
	return out, nil
}

func (b *Backend) loadQueue(ctx context.Context, r reader, ids []int64) (map[int64]*apubsub.QueueEntry, error) {
	recs, err := loadRecords[queueRecord](ctx, r, b.keysOf(ids, b.queueKey))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*apubsub.QueueEntry, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec.data()
	}
	return out, nil
}

// setRecord queues the SET of an encoded record.
func setRecord(ctx context.Context, p redis.Pipeliner, key string, rec any) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	p.Set(ctx, key, data, 0)
	return nil
}
