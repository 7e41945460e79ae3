package notifications_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/makinacorpus/apubsub-sub000/pkg/notifications"
)

type mockDeliverer struct {
	mock.Mock
}

func (d *mockDeliverer) Deliver(ctx context.Context, notif notifications.Notification) error {
	return d.Called(ctx, notif).Error(0)
}

func (d *mockDeliverer) DeliverBatch(ctx context.Context, notifs []notifications.Notification) error {
	return d.Called(ctx, notifs).Error(0)
}

func TestMultiDeliverer(t *testing.T) {
	notif := notifications.Notification{ID: "1", UserID: "alice", Title: "Hi"}

	t.Run("every deliverer is called despite failures", func(t *testing.T) {
		d1 := new(mockDeliverer)
		d1.On("Deliver", mock.Anything, notif).Return(errors.New("down"))
		d2 := new(mockDeliverer)
		d2.On("Deliver", mock.Anything, notif).Return(nil)

		m := notifications.NewMultiDeliverer([]notifications.Deliverer{d1, d2})
		assert.NoError(t, m.Deliver(context.Background(), notif))
		d1.AssertExpectations(t)
		d2.AssertExpectations(t)
	})

	t.Run("batch", func(t *testing.T) {
		batch := []notifications.Notification{notif, notif}
		d1 := new(mockDeliverer)
		d1.On("DeliverBatch", mock.Anything, batch).Return(errors.New("down"))
		d2 := new(mockDeliverer)
		d2.On("DeliverBatch", mock.Anything, batch).Return(nil)

		m := notifications.NewMultiDeliverer([]notifications.Deliverer{d1, d2})
		assert.NoError(t, m.DeliverBatch(context.Background(), batch))
		d1.AssertExpectations(t)
		d2.AssertExpectations(t)
	})

	t.Run("no-op", func(t *testing.T) {
		d := &notifications.NoOpDeliverer{}
		assert.NoError(t, d.Deliver(context.Background(), notif))
		assert.NoError(t, d.DeliverBatch(context.Background(), nil))
	})
}
