package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// ChannelID records a channel identifier under the key "channel_id".
// An empty id yields an empty Attr.
func ChannelID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("channel_id", id)
}

// ChannelIDs records a list of channel identifiers under the key "channel_ids".
func ChannelIDs(ids []string) slog.Attr {
	return slog.Any("channel_ids", ids)
}

// SubscriptionID records a subscription identifier under the key "subscription_id".
func SubscriptionID(id int64) slog.Attr {
	return slog.Int64("subscription_id", id)
}

// MessageID records a message identifier under the key "message_id".
func MessageID(id int64) slog.Attr {
	return slog.Int64("message_id", id)
}

// QueueID records a queue entry identifier under the key "queue_id".
func QueueID(id int64) slog.Attr {
	return slog.Int64("queue_id", id)
}

// Subscriber records a subscriber name under the key "subscriber".
// An empty name (anonymous subscription) yields an empty Attr.
func Subscriber(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("subscriber", name)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// Engine records the storage engine tag under the key "engine".
func Engine(tag string) slog.Attr {
	return slog.String("engine", tag)
}

// Affected records the number of rows touched by a mutation under the key "affected".
func Affected(n int64) slog.Attr {
	return slog.Int64("affected", n)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
