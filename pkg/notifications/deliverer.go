package notifications

import (
	"context"
	"log/slog"

	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

// Deliverer pushes stored notifications to a real-time transport.
type Deliverer interface {
	Deliver(ctx context.Context, notif Notification) error
	DeliverBatch(ctx context.Context, notifs []Notification) error
}

// MultiDeliverer fans a notification out to several deliverers.
type MultiDeliverer struct {
	deliverers []Deliverer
	logger     *slog.Logger
}

// MultiDelivererOption configures a MultiDeliverer.
type MultiDelivererOption func(*MultiDeliverer)

func WithMultiDelivererLogger(logger *slog.Logger) MultiDelivererOption {
	return func(m *MultiDeliverer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMultiDeliverer(deliverers []Deliverer, opts ...MultiDelivererOption) *MultiDeliverer {
	m := &MultiDeliverer{
		deliverers: deliverers,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deliver is best effort: failures are logged and never returned.
func (m *MultiDeliverer) Deliver(ctx context.Context, notif Notification) error {
	for i, d := range m.deliverers {
		if err := d.Deliver(ctx, notif); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "Failed to deliver notification",
				slog.String("notification_id", notif.ID),
				logger.UserID(notif.UserID),
				slog.Int("deliverer_index", i),
				logger.Error(err),
			)
		}
	}
	return nil
}

// DeliverBatch is best effort: failures are logged and never returned.
func (m *MultiDeliverer) DeliverBatch(ctx context.Context, notifs []Notification) error {
	for i, d := range m.deliverers {
		if err := d.DeliverBatch(ctx, notifs); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "Failed to deliver notification batch",
				slog.Int("notification_count", len(notifs)),
				slog.Int("deliverer_index", i),
				logger.Error(err),
			)
		}
	}
	return nil
}

// NoOpDeliverer discards notifications.
type NoOpDeliverer struct{}

func (n *NoOpDeliverer) Deliver(context.Context, Notification) error { return nil }

func (n *NoOpDeliverer) DeliverBatch(context.Context, []Notification) error { return nil }
