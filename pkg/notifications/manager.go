package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

// DefaultPrefix namespaces the per-user channels and subscribers.
const DefaultPrefix = "notifications:"

// Manager stores notifications in a broker and hands them to a deliverer.
//
// Every user owns one channel and one subscriber, both named prefix+userID.
// Sending to several users is a single fan-out message.
type Manager struct {
	backend   apubsub.Backend
	deliverer Deliverer
	prefix    string
	logger    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// NewManager creates a notification manager. A nil deliverer disables
// real-time delivery.
func NewManager(backend apubsub.Backend, deliverer Deliverer, opts ...ManagerOption) *Manager {
	if deliverer == nil {
		deliverer = &NoOpDeliverer{}
	}
	m := &Manager{
		backend:   backend,
		deliverer: deliverer,
		prefix:    DefaultPrefix,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("notifications"))
	return m
}

func (m *Manager) channelID(userID string) string { return m.prefix + userID }

func (m *Manager) subscriber(userID string) *apubsub.Subscriber {
	return m.backend.GetSubscriber(m.prefix + userID)
}

// ensureUsers creates the channels and subscriptions of userIDs.
func (m *Manager) ensureUsers(ctx context.Context, userIDs []string) ([]string, error) {
	ids := make([]string, 0, len(userIDs))
	for _, u := range userIDs {
		if u == "" {
			return nil, ErrEmptyUserID
		}
		ids = append(ids, m.channelID(u))
	}
	if _, err := m.backend.CreateChannels(ctx, ids, true); err != nil {
		return nil, fmt.Errorf("failed to create notification channels: %w", err)
	}
	for _, u := range userIDs {
		if _, err := m.subscriber(u).Subscribe(ctx, m.channelID(u)); err != nil {
			return nil, fmt.Errorf("failed to subscribe user %s: %w", u, err)
		}
	}
	return ids, nil
}

func (m *Manager) send(ctx context.Context, userIDs []string, notif Notification) (int64, error) {
	channels, err := m.ensureUsers(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	opts := []apubsub.SendOption{
		apubsub.WithType(string(notif.Type)),
		apubsub.WithLevel(int(notif.Priority)),
	}
	if !notif.CreatedAt.IsZero() {
		opts = append(opts, apubsub.WithSentAt(notif.CreatedAt))
	}
	msg, err := m.backend.Send(ctx, channels, payloadOf(notif), opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to store notification: %w", err)
	}
	if msg == nil {
		return 0, fmt.Errorf("failed to store notification: %w", apubsub.ErrChannelDoesNotExist)
	}
	return msg.ID, nil
}

// Send stores notif for notif.UserID and delivers it. Delivery failures are
// logged: the notification stays available through List.
func (m *Manager) Send(ctx context.Context, notif Notification) (Notification, error) {
	id, err := m.send(ctx, []string{notif.UserID}, notif)
	if err != nil {
		return Notification{}, err
	}
	notif = m.stamp(notif, id)
	if err := m.deliverer.Deliver(ctx, notif); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to deliver notification, but it was stored successfully",
			logger.MessageID(id),
			logger.UserID(notif.UserID),
			logger.Error(err),
		)
	}
	return notif, nil
}

// SendToUsers stores one notification for every user and delivers the batch.
func (m *Manager) SendToUsers(ctx context.Context, userIDs []string, template Notification) ([]Notification, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	id, err := m.send(ctx, userIDs, template)
	if err != nil {
		return nil, err
	}
	sent := make([]Notification, 0, len(userIDs))
	for _, u := range userIDs {
		n := template
		n.UserID = u
		sent = append(sent, m.stamp(n, id))
	}
	if err := m.deliverer.DeliverBatch(ctx, sent); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to deliver notification batch, but they were stored successfully",
			slog.Int("notification_count", len(sent)),
			logger.Error(err),
		)
	}
	return sent, nil
}

func (m *Manager) stamp(n Notification, id int64) Notification {
	n.ID = strconv.FormatInt(id, 10)
	n.Read = false
	n.ReadAt = nil
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return n
}

func (m *Manager) cursor(userID string, conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Message], error) {
	return m.subscriber(userID).Fetch(conds)
}

func parseIDs(notifIDs []string) ([]int64, error) {
	ids := make([]int64, 0, len(notifIDs))
	for _, s := range notifIDs {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNotificationID, s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get returns one notification of userID.
func (m *Manager) Get(ctx context.Context, userID, notifID string) (*Notification, error) {
	ids, err := parseIDs([]string{notifID})
	if err != nil {
		return nil, err
	}
	c, err := m.cursor(userID, apubsub.Conditions{apubsub.FieldMsgID: ids[0]})
	if err != nil {
		return nil, err
	}
	if err := c.SetLimit(1); err != nil {
		return nil, err
	}
	msgs, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, notifID)
	}
	n, err := fromMessage(userID, msgs[0])
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// List returns the notifications of userID, newest first. Expired
// notifications are skipped.
func (m *Manager) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	conds := apubsub.Conditions{}
	if opts.OnlyUnread {
		conds[apubsub.FieldMsgUnread] = true
	}
	if len(opts.Types) > 0 {
		conds[apubsub.FieldMsgType] = opts.Types
	}
	if opts.Since != nil {
		conds[apubsub.FieldMsgSent] = apubsub.Gt(*opts.Since)
	}
	c, err := m.cursor(userID, conds)
	if err != nil {
		return nil, err
	}
	if err := c.AddSort(apubsub.FieldMsgSent, apubsub.Desc); err != nil {
		return nil, err
	}
	if err := c.AddSort(apubsub.FieldMsgID, apubsub.Desc); err != nil {
		return nil, err
	}
	if err := c.SetLimit(opts.Limit); err != nil {
		return nil, err
	}
	if err := c.SetOffset(opts.Offset); err != nil {
		return nil, err
	}
	msgs, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(msgs))
	for _, msg := range msgs {
		n, err := fromMessage(userID, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return slices.DeleteFunc(out, func(n Notification) bool { return n.IsExpired() }), nil
}

// MarkRead marks the given notifications of userID as read.
func (m *Manager) MarkRead(ctx context.Context, userID string, notifIDs ...string) error {
	if len(notifIDs) == 0 {
		return nil
	}
	ids, err := parseIDs(notifIDs)
	if err != nil {
		return err
	}
	return m.update(ctx, userID, apubsub.Conditions{apubsub.FieldMsgID: ids})
}

// MarkAllRead marks every unread notification of userID as read in a
// single cursor update.
func (m *Manager) MarkAllRead(ctx context.Context, userID string) error {
	return m.update(ctx, userID, apubsub.Conditions{apubsub.FieldMsgUnread: true})
}

func (m *Manager) update(ctx context.Context, userID string, conds apubsub.Conditions) error {
	c, err := m.cursor(userID, conds)
	if err != nil {
		return err
	}
	return c.Update(ctx, apubsub.Values{apubsub.FieldMsgUnread: false})
}

// Delete removes the given notifications from the queue of userID. Other
// recipients keep theirs.
func (m *Manager) Delete(ctx context.Context, userID string, notifIDs ...string) error {
	if len(notifIDs) == 0 {
		return nil
	}
	ids, err := parseIDs(notifIDs)
	if err != nil {
		return err
	}
	c, err := m.cursor(userID, apubsub.Conditions{apubsub.FieldMsgID: ids})
	if err != nil {
		return err
	}
	return c.Delete(ctx)
}

// CountUnread returns the unread count of userID.
func (m *Manager) CountUnread(ctx context.Context, userID string) (int, error) {
	c, err := m.cursor(userID, apubsub.Conditions{apubsub.FieldMsgUnread: true})
	if err != nil {
		return 0, err
	}
	return c.TotalCount(ctx)
}

// Forget removes the channel and subscriber of userID with every pending
// notification.
func (m *Manager) Forget(ctx context.Context, userID string) error {
	err := m.backend.DeleteChannel(ctx, m.channelID(userID), true)
	if err != nil && !errors.Is(err, apubsub.ErrChannelDoesNotExist) {
		return err
	}
	return m.subscriber(userID).Delete(ctx)
}

// Backend returns the broker notifications are stored in.
func (m *Manager) Backend() apubsub.Backend {
	return m.backend
}

// Deliverer returns the underlying notification deliverer.
func (m *Manager) Deliverer() Deliverer {
	return m.deliverer
}
