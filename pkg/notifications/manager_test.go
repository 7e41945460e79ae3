package notifications_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/memory"
	"github.com/makinacorpus/apubsub-sub000/pkg/notifications"
)

func newManager(t *testing.T, d notifications.Deliverer) (*notifications.Manager, apubsub.Backend) {
	t.Helper()
	b := memory.New()
	return notifications.NewManager(b, d), b
}

func TestManagerSend(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and delivers", func(t *testing.T) {
		d := new(mockDeliverer)
		d.On("Deliver", mock.Anything, mock.AnythingOfType("notifications.Notification")).Return(nil)
		m, b := newManager(t, d)

		n, err := m.Send(ctx, notifications.Notification{
			UserID:   "alice",
			Type:     notifications.TypeWarning,
			Priority: notifications.PriorityHigh,
			Title:    "Disk",
			Message:  "almost full",
			Data:     map[string]any{"disk": "sda"},
			Actions:  []notifications.Action{{Label: "Open", URL: "/disks"}},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.False(t, n.Read)
		d.AssertExpectations(t)

		got, err := m.Get(ctx, "alice", n.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, notifications.TypeWarning, got.Type)
		assert.Equal(t, notifications.PriorityHigh, got.Priority)
		assert.Equal(t, "Disk", got.Title)
		assert.Equal(t, "almost full", got.Message)
		assert.Equal(t, "sda", got.Data["disk"])
		assert.Equal(t, "/disks", got.Actions[0].URL)

		_, err = b.GetChannel(ctx, notifications.DefaultPrefix+"alice")
		require.NoError(t, err)
	})

	t.Run("delivery failure is not an error", func(t *testing.T) {
		d := new(mockDeliverer)
		d.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("offline"))
		m, _ := newManager(t, d)

		n, err := m.Send(ctx, notifications.Notification{UserID: "alice", Title: "Hi"})
		require.NoError(t, err)
		count, err := m.CountUnread(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.NotEmpty(t, n.ID)
	})

	t.Run("empty user", func(t *testing.T) {
		m, _ := newManager(t, nil)
		_, err := m.Send(ctx, notifications.Notification{Title: "Hi"})
		assert.ErrorIs(t, err, notifications.ErrEmptyUserID)
	})

	t.Run("one message for several users", func(t *testing.T) {
		d := new(mockDeliverer)
		d.On("DeliverBatch", mock.Anything, mock.Anything).Return(nil)
		m, b := newManager(t, d)

		sent, err := m.SendToUsers(ctx, []string{"alice", "bob"}, notifications.Notification{Title: "Maintenance"})
		require.NoError(t, err)
		require.Len(t, sent, 2)
		assert.Equal(t, sent[0].ID, sent[1].ID)
		assert.Equal(t, "bob", sent[1].UserID)

		a, err := b.Analysis(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, a.Messages)
		assert.EqualValues(t, 2, a.QueueSize)

		require.NoError(t, m.Delete(ctx, "alice", sent[0].ID))
		_, err = m.Get(ctx, "alice", sent[0].ID)
		assert.ErrorIs(t, err, notifications.ErrNotificationNotFound)
		_, err = m.Get(ctx, "bob", sent[1].ID)
		assert.NoError(t, err, "other recipients keep their copy")
	})
}

func TestManagerReadState(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, nil)

	var ids []string
	for _, title := range []string{"one", "two", "three"} {
		n, err := m.Send(ctx, notifications.Notification{UserID: "alice", Title: title})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	_, err := m.Send(ctx, notifications.Notification{UserID: "bob", Title: "other"})
	require.NoError(t, err)

	require.NoError(t, m.MarkRead(ctx, "alice", ids[0]))
	count, err := m.CountUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := m.Get(ctx, "alice", ids[0])
	require.NoError(t, err)
	assert.True(t, got.Read)
	require.NotNil(t, got.ReadAt)

	require.NoError(t, m.MarkAllRead(ctx, "alice"))
	count, err = m.CountUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = m.CountUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other users are untouched")

	assert.ErrorIs(t, m.MarkRead(ctx, "alice", "nope"), notifications.ErrInvalidNotificationID)
}

func TestManagerList(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, nil)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	past := base.Add(-time.Hour)
	send := func(title string, typ notifications.Type, at time.Time, expires *time.Time) string {
		n, err := m.Send(ctx, notifications.Notification{
			UserID:    "alice",
			Type:      typ,
			Title:     title,
			CreatedAt: at,
			ExpiresAt: expires,
		})
		require.NoError(t, err)
		return n.ID
	}
	first := send("first", notifications.TypeInfo, base, nil)
	send("second", notifications.TypeError, base.Add(time.Minute), nil)
	send("third", notifications.TypeInfo, base.Add(2*time.Minute), nil)
	send("expired", notifications.TypeInfo, base.Add(3*time.Minute), &past)

	titles := func(ns []notifications.Notification) []string {
		out := make([]string, 0, len(ns))
		for _, n := range ns {
			out = append(out, n.Title)
		}
		return out
	}

	all, err := m.List(ctx, "alice", notifications.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, titles(all))

	page, err := m.List(ctx, "alice", notifications.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, titles(page), "the expired one still takes a slot")

	infos, err := m.List(ctx, "alice", notifications.ListOptions{Types: []notifications.Type{notifications.TypeInfo}})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "first"}, titles(infos))

	since := base.Add(30 * time.Second)
	recent, err := m.List(ctx, "alice", notifications.ListOptions{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, titles(recent))

	require.NoError(t, m.MarkRead(ctx, "alice", first))
	unread, err := m.List(ctx, "alice", notifications.ListOptions{OnlyUnread: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, titles(unread))
}

func TestManagerForget(t *testing.T) {
	ctx := context.Background()
	m, b := newManager(t, nil)

	_, err := m.Send(ctx, notifications.Notification{UserID: "alice", Title: "Hi"})
	require.NoError(t, err)
	require.NoError(t, m.Forget(ctx, "alice"))
	require.NoError(t, m.Forget(ctx, "alice"))

	_, err = b.GetChannel(ctx, notifications.DefaultPrefix+"alice")
	assert.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)
	count, err := m.CountUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}
