package eval

import (
	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// ChannelField is the Getter for channels.
func ChannelField(d *apubsub.ChannelData, f apubsub.Field) any {
	switch f {
	case apubsub.FieldChannelID:
		return d.ID
	case apubsub.FieldChanTitle:
		return d.Title
	case apubsub.FieldChanCreated:
		return d.CreatedAt
	case apubsub.FieldChanUpdated:
		return d.UpdatedAt
	}
	return nil
}

// SubscriptionField is the Getter for subscriptions.
func SubscriptionField(d *apubsub.SubscriptionData, f apubsub.Field) any {
	switch f {
	case apubsub.FieldSubID:
		return d.ID
	case apubsub.FieldChannelID:
		return d.ChannelID
	case apubsub.FieldSubStatus:
		return d.Active
	case apubsub.FieldSubCreated:
		return d.CreatedAt
	case apubsub.FieldSubAccessed:
		return Nullable(d.AccessedAt)
	case apubsub.FieldSubscriberName:
		return Nullable(d.Subscriber)
	}
	return nil
}

// QueueRow is a queue entry joined with its message and subscription.
type QueueRow struct {
	Entry        *apubsub.QueueEntry
	Message      *apubsub.MessageData
	Subscription *apubsub.SubscriptionData
}

// QueueField is the Getter for message cursors.
func QueueField(r QueueRow, f apubsub.Field) any {
	switch f {
	case apubsub.FieldChannelID:
		return r.Subscription.ChannelID
	case apubsub.FieldMsgID:
		return r.Message.ID
	case apubsub.FieldMsgSent:
		return r.Message.SentAt
	case apubsub.FieldMsgType:
		return Nullable(r.Message.Type)
	case apubsub.FieldMsgLevel:
		return int64(r.Message.Level)
	case apubsub.FieldMsgUnread:
		return r.Entry.Unread
	case apubsub.FieldMsgOrigin:
		return Nullable(r.Message.Origin)
	case apubsub.FieldQueueID:
		return r.Entry.ID
	case apubsub.FieldSubID:
		return r.Entry.SubscriptionID
	case apubsub.FieldSubscriberName:
		return Nullable(r.Subscription.Subscriber)
	}
	return nil
}

// Project returns the message as seen through the row's queue entry.
func (r QueueRow) Project() apubsub.MessageData {
	d := *r.Message
	d.ChannelIDs = append([]string(nil), r.Message.ChannelIDs...)
	d.QueueID = r.Entry.ID
	d.SubscriptionID = r.Entry.SubscriptionID
	d.ChannelID = r.Subscription.ChannelID
	d.Subscriber = r.Subscription.Subscriber
	d.Unread = r.Entry.Unread
	if r.Entry.ReadAt != nil {
		d.ReadAt = *r.Entry.ReadAt
	}
	return d
}

// Subscribers returns the distinct named subscribers owning a subscription
// that satisfies every predicate, in no particular order.
func Subscribers(subs []*apubsub.SubscriptionData, preds []apubsub.Predicate) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, s := range subs {
		if s.Subscriber == "" || !MatchAll(s, preds, SubscriptionField) {
			continue
		}
		if _, ok := seen[s.Subscriber]; ok {
			continue
		}
		seen[s.Subscriber] = struct{}{}
		out = append(out, s.Subscriber)
	}
	return out
}

// SubscriberField is the Getter for subscriber names.
func SubscriberField(name string, f apubsub.Field) any {
	if f == apubsub.FieldSubscriberName {
		return name
	}
	return nil
}
