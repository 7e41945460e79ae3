// Package apubsub is a storage-agnostic publish/subscribe broker.
//
// Messages are sent to channels. Every active subscription of a target
// channel gets a queue entry for the message, which carries its own read
// state. Subscribers are named groups of subscriptions, at most one per
// channel.
//
// Engines live under backend/ and implement Backend:
//
//   - backend/memory keeps everything in process
//   - backend/pgsql stores state in PostgreSQL through pgx
//   - backend/mongodb stores state in MongoDB
//   - backend/redisdb stores state in Redis with optimistic transactions
//
// Basic usage:
//
//	b := memory.New()
//	ch, err := b.CreateChannel(ctx, "news", "News", false)
//	if err != nil {
//		return err
//	}
//	sub, err := b.GetSubscriber("alice").Subscribe(ctx, "news")
//	if err != nil {
//		return err
//	}
//	if _, err := ch.Send(ctx, map[string]string{"text": "hello"}); err != nil {
//		return err
//	}
//
//	cursor, err := sub.Fetch(apubsub.Conditions{apubsub.FieldMsgUnread: true})
//	if err != nil {
//		return err
//	}
//	messages, err := cursor.Fetch(ctx)
//
// Cursors accept conditions, sorts and a limit/offset window. Delete and
// Update act on every matching row regardless of the window.
//
// Retention is handled by a Collector, run after every send unless checks
// are delayed, in which case GarbageCollection is expected to be called
// periodically (see pkg/janitor).
package apubsub
