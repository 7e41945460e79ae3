package notifications_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/makinacorpus/apubsub-sub000/pkg/notifications"
)

func TestNotificationExpiry(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	assert.False(t, (&notifications.Notification{}).IsExpired())
	assert.True(t, (&notifications.Notification{ExpiresAt: &past}).IsExpired())
	assert.False(t, (&notifications.Notification{ExpiresAt: &future}).IsExpired())
}

func TestNotificationMarkAsRead(t *testing.T) {
	n := &notifications.Notification{}
	n.MarkAsRead()
	assert.True(t, n.Read)
	assert.NotNil(t, n.ReadAt)
}
