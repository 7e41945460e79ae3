package apubsub

import (
	"fmt"
	"time"
)

// Field is a queryable attribute shared by every cursor and every backend.
type Field string

const (
	FieldChannelID      Field = "channel_id"
	FieldChanTitle      Field = "chan_title"
	FieldChanCreated    Field = "chan_created"
	FieldChanUpdated    Field = "chan_updated"
	FieldMsgID          Field = "msg_id"
	FieldMsgSent        Field = "msg_sent"
	FieldMsgType        Field = "msg_type"
	FieldMsgLevel       Field = "msg_level"
	FieldMsgUnread      Field = "msg_unread"
	FieldMsgOrigin      Field = "msg_origin"
	FieldQueueID        Field = "queue_id"
	FieldSubID          Field = "sub_id"
	FieldSubStatus      Field = "sub_status"
	FieldSubCreated     Field = "sub_created"
	FieldSubAccessed    Field = "sub_accessed"
	FieldSubscriberName Field = "subscriber_name"
)

// nullable reports whether an empty string stands for NULL on f.
func (f Field) nullable() bool {
	return f == FieldMsgType || f == FieldMsgOrigin || f == FieldSubscriberName
}

// Kind identifies the entity a cursor iterates over.
type Kind string

const (
	KindChannel      Kind = "channel"
	KindSubscription Kind = "subscription"
	KindSubscriber   Kind = "subscriber"
	KindMessage      Kind = "message"
)

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Sort is a single sort clause.
type Sort struct {
	Field     Field
	Direction Direction
}

// fieldSet describes what a cursor kind accepts.
type fieldSet struct {
	filter   map[Field]struct{}
	sort     map[Field]struct{}
	update   map[Field]struct{}
	defaults []Sort
	tiebreak []Sort
}

func setOf(fields ...Field) map[Field]struct{} {
	m := make(map[Field]struct{}, len(fields))
	for _, f := range fields {
		m[f] = struct{}{}
	}
	return m
}

var kindFields = map[Kind]fieldSet{
	KindChannel: {
		filter:   setOf(FieldChannelID, FieldChanTitle, FieldChanCreated, FieldChanUpdated),
		sort:     setOf(FieldChannelID, FieldChanTitle, FieldChanCreated, FieldChanUpdated),
		update:   setOf(FieldChanTitle),
		defaults: []Sort{{FieldChanCreated, Asc}},
		tiebreak: []Sort{{FieldChannelID, Asc}},
	},
	KindSubscription: {
		filter:   setOf(FieldSubID, FieldChannelID, FieldSubStatus, FieldSubCreated, FieldSubAccessed, FieldSubscriberName),
		sort:     setOf(FieldSubID, FieldChannelID, FieldSubStatus, FieldSubCreated, FieldSubAccessed, FieldSubscriberName),
		update:   setOf(FieldSubStatus, FieldSubAccessed),
		defaults: []Sort{{FieldSubCreated, Asc}},
		tiebreak: []Sort{{FieldSubID, Asc}},
	},
	KindSubscriber: {
		filter:   setOf(FieldSubscriberName, FieldChannelID, FieldSubID),
		sort:     setOf(FieldSubscriberName),
		update:   setOf(),
		defaults: []Sort{{FieldSubscriberName, Asc}},
	},
	KindMessage: {
		filter: setOf(FieldChannelID, FieldMsgID, FieldMsgSent, FieldMsgType, FieldMsgLevel,
			FieldMsgUnread, FieldMsgOrigin, FieldQueueID, FieldSubID, FieldSubscriberName),
		sort: setOf(FieldChannelID, FieldMsgID, FieldMsgSent, FieldMsgType, FieldMsgLevel,
			FieldMsgUnread, FieldMsgOrigin, FieldQueueID, FieldSubID, FieldSubscriberName),
		update:   setOf(FieldMsgUnread),
		defaults: []Sort{{FieldMsgSent, Asc}},
		tiebreak: []Sort{{FieldMsgID, Asc}, {FieldQueueID, Asc}},
	},
}

// CanFilter reports whether cursors of kind k accept f as a condition.
func (k Kind) CanFilter(f Field) bool {
	_, ok := kindFields[k].filter[f]
	return ok
}

// CanSort reports whether cursors of kind k accept f as a sort clause.
func (k Kind) CanSort(f Field) bool {
	_, ok := kindFields[k].sort[f]
	return ok
}

// CanUpdate reports whether cursors of kind k can mass-assign f.
func (k Kind) CanUpdate(f Field) bool {
	_, ok := kindFields[k].update[f]
	return ok
}

// OrderBy returns the effective sort for kind k: the caller's clauses (or the
// natural creation order when there are none) followed by the identifier
// tie-breaks the caller did not already mention.
func (k Kind) OrderBy(sorts []Sort) []Sort {
	fs := kindFields[k]
	out := make([]Sort, 0, len(sorts)+len(fs.defaults)+len(fs.tiebreak))
	if len(sorts) == 0 {
		out = append(out, fs.defaults...)
	} else {
		out = append(out, sorts...)
	}
	for _, tb := range fs.tiebreak {
		seen := false
		for _, s := range out {
			if s.Field == tb.Field {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, tb)
		}
	}
	return out
}

// Values is a set of field assignments for Cursor.Update.
type Values map[Field]any

// validate checks every assignment against kind k and canonicalizes it.
func (v Values) validate(k Kind) (Values, error) {
	if len(kindFields[k].update) == 0 {
		return nil, fmt.Errorf("%w: %s cursors are read-only", ErrUnsupportedOperation, k)
	}
	out := make(Values, len(v))
	for f, raw := range v {
		if !k.CanUpdate(f) {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedUpdateField, f, k)
		}
		val := Canonical(raw)
		switch f {
		case FieldSubStatus, FieldMsgUnread:
			if _, ok := val.(bool); !ok {
				return nil, fmt.Errorf("%w: %s expects a bool, got %T", ErrInvalidValue, f, raw)
			}
		case FieldChanTitle:
			if _, ok := val.(string); !ok {
				return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidValue, f, raw)
			}
		case FieldSubAccessed:
			if _, ok := val.(time.Time); !ok {
				return nil, fmt.Errorf("%w: %s expects a time, got %T", ErrInvalidValue, f, raw)
			}
		}
		out[f] = val
	}
	return out, nil
}
