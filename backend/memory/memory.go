// Package memory is the in-process apubsub engine. Every operation runs
// under one mutex, which makes fan-out and cascades trivially atomic.
// Ordering uses the same explicit comparator as the key/value engine.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

// Engine is the registry tag of this backend.
const Engine = "memory"

// Config holds engine specific settings.
type Config struct {
	// ConsumeOnFetch removes queue entries once fetched, and messages once
	// fetched by every subscription they were queued for.
	ConsumeOnFetch bool `env:"APUBSUB_MEMORY_CONSUME_ON_FETCH" envDefault:"false"`
}

// Backend implements apubsub.Backend in memory.
type Backend struct {
	mu        sync.RWMutex
	opts      apubsub.Options
	cfg       Config
	logger    *slog.Logger
	collector *apubsub.Collector

	channels map[string]*apubsub.ChannelData
	subs     map[int64]*apubsub.SubscriptionData
	messages map[int64]*apubsub.MessageData
	queue    map[int64]*apubsub.QueueEntry

	subSeq   int64
	msgSeq   int64
	queueSeq int64
}

var _ apubsub.Backend = (*Backend)(nil)

// New creates an empty backend.
func New(opts ...apubsub.Option) *Backend {
	return NewWithConfig(Config{}, opts...)
}

// NewWithConfig creates an empty backend with engine specific settings.
func NewWithConfig(cfg Config, opts ...apubsub.Option) *Backend {
	o := apubsub.NewOptions(opts...)
	b := &Backend{
		opts:     o,
		cfg:      cfg,
		logger:   o.Logger.With(logger.Engine(Engine)),
		channels: make(map[string]*apubsub.ChannelData),
		subs:     make(map[int64]*apubsub.SubscriptionData),
		messages: make(map[int64]*apubsub.MessageData),
		queue:    make(map[int64]*apubsub.QueueEntry),
	}
	b.collector = apubsub.NewCollector(Engine, b, o)
	return b
}

// Factory returns a registry factory building memory backends.
func Factory(cfg Config) apubsub.Factory {
	return func(_ context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		return NewWithConfig(cfg, opts...), nil
	}
}

func (b *Backend) channel(d *apubsub.ChannelData) *apubsub.Channel {
	return apubsub.NewChannel(b, *d)
}

func (b *Backend) CreateChannel(ctx context.Context, id, title string, ignoreErrors bool) (*apubsub.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.channels[id]; ok {
		if ignoreErrors {
			return b.channel(existing), nil
		}
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
	}
	now := b.opts.Now()
	d := &apubsub.ChannelData{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	b.channels[id] = d
	b.logger.LogAttrs(ctx, slog.LevelDebug, "channel created", logger.ChannelID(id))
	return b.channel(d), nil
}

func (b *Backend) CreateChannels(ctx context.Context, ids []string, ignoreErrors bool) ([]*apubsub.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ignoreErrors {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			_, exists := b.channels[id]
			_, repeated := seen[id]
			if exists || repeated {
				return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
			}
			seen[id] = struct{}{}
		}
	}
	now := b.opts.Now()
	out := make([]*apubsub.Channel, 0, len(ids))
	for _, id := range ids {
		d, ok := b.channels[id]
		if !ok {
			d = &apubsub.ChannelData{ID: id, CreatedAt: now, UpdatedAt: now}
			b.channels[id] = d
		}
		out = append(out, b.channel(d))
	}
	return out, nil
}

func (b *Backend) GetChannel(_ context.Context, id string) (*apubsub.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d, ok := b.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
	}
	return b.channel(d), nil
}

func (b *Backend) GetChannels(_ context.Context, ids []string) ([]*apubsub.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*apubsub.Channel, 0, len(ids))
	for _, id := range ids {
		d, ok := b.channels[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
		}
		out = append(out, b.channel(d))
	}
	return out, nil
}

func (b *Backend) DeleteChannel(ctx context.Context, id string, ignoreErrors bool) error {
	return b.DeleteChannels(ctx, []string{id}, ignoreErrors)
}

func (b *Backend) DeleteChannels(ctx context.Context, ids []string, ignoreErrors bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ignoreErrors {
		for _, id := range ids {
			if _, ok := b.channels[id]; !ok {
				return fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
			}
		}
	}
	for _, id := range ids {
		b.deleteChannelLocked(id)
		b.logger.LogAttrs(ctx, slog.LevelDebug, "channel deleted", logger.ChannelID(id))
	}
	return nil
}

// deleteChannelLocked cascades to subscriptions, queue entries, and the
// messages that targeted the channel and are no longer queued anywhere.
func (b *Backend) deleteChannelLocked(id string) {
	if _, ok := b.channels[id]; !ok {
		return
	}
	for subID, s := range b.subs {
		if s.ChannelID == id {
			b.deleteSubscriptionLocked(subID)
		}
	}
	queued := make(map[int64]struct{}, len(b.queue))
	for _, q := range b.queue {
		queued[q.MessageID] = struct{}{}
	}
	for msgID, m := range b.messages {
		if _, ok := queued[msgID]; ok {
			continue
		}
		if slices.Contains(m.ChannelIDs, id) {
			delete(b.messages, msgID)
		}
	}
	delete(b.channels, id)
}

func (b *Backend) FetchChannels(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Channel], error) {
	return apubsub.NewCursor[*apubsub.Channel](apubsub.KindChannel, conds, channelRunner{b})
}

func (b *Backend) GarbageCollection(ctx context.Context) error {
	_, err := b.collector.Run(ctx)
	return err
}

// FlushCaches is a no-op: the maps are the authoritative store.
func (b *Backend) FlushCaches() {}

func (b *Backend) Analysis(_ context.Context) (apubsub.Analysis, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make(map[string]struct{})
	for _, s := range b.subs {
		if s.Subscriber != "" {
			names[s.Subscriber] = struct{}{}
		}
	}
	return apubsub.Analysis{
		Channels:      int64(len(b.channels)),
		Messages:      int64(len(b.messages)),
		Subscriptions: int64(len(b.subs)),
		Subscribers:   int64(len(names)),
		QueueSize:     int64(len(b.queue)),
	}, nil
}
