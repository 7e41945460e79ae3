// Package notifications is a user notification inbox built on the broker.
//
// Every user gets a channel and a subscriber of the same name. Sending a
// notification sends a message; its type and priority become the message
// type and level, so listing and counting are plain cursor queries, and
// MarkAllRead is a single cursor update.
//
//	m := notifications.NewManager(backend, nil)
//	n, err := m.Send(ctx, notifications.Notification{
//		UserID: "user123",
//		Type:   notifications.TypeInfo,
//		Title:  "Welcome!",
//	})
//
//	unread, err := m.CountUnread(ctx, "user123")
//	err = m.MarkAllRead(ctx, "user123")
//
// Real-time delivery is pluggable through Deliverer and is best effort: a
// failed delivery is logged, the notification stays in the inbox.
package notifications
