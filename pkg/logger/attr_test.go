package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("sub", slog.Int64("id", 1), slog.Bool("active", true))
	require.Equal(t, "sub", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "active", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestBrokerAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want any
	}{
		{"channel", logger.ChannelID("foo"), "channel_id", "foo"},
		{"subscription", logger.SubscriptionID(7), "subscription_id", int64(7)},
		{"message", logger.MessageID(12), "message_id", int64(12)},
		{"queue", logger.QueueID(3), "queue_id", int64(3)},
		{"subscriber", logger.Subscriber("bar"), "subscriber", "bar"},
		{"engine", logger.Engine("pgsql"), "engine", "pgsql"},
		{"affected", logger.Affected(4), "affected", int64(4)},
		{"duration", logger.Duration(time.Second), "duration", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.Any())
		})
	}
}

func TestEmptyIdentifiersAreDropped(t *testing.T) {
	assert.True(t, logger.ChannelID("").Equal(slog.Attr{}))
	assert.True(t, logger.Subscriber("").Equal(slog.Attr{}))
	assert.True(t, logger.UserID(nil).Equal(slog.Attr{}))
}
