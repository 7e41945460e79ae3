package apubsub

import (
	"context"
	"fmt"
	"time"
)

// SubscriptionData is the persisted state of a subscription. Zero times
// stand for "never".
type SubscriptionData struct {
	ID            int64
	ChannelID     string
	Subscriber    string
	Active        bool
	CreatedAt     time.Time
	ActivatedAt   time.Time
	DeactivatedAt time.Time
	AccessedAt    time.Time
}

// Subscription is a fan-out target bound to one channel.
type Subscription struct {
	SubscriptionData
	backend Backend
}

// NewSubscription binds d to b.
func NewSubscription(b Backend, d SubscriptionData) *Subscription {
	return &Subscription{SubscriptionData: d, backend: b}
}

func (s *Subscription) Backend() Backend { return s.backend }

// StartDate is the latest activation time. Only valid while active.
func (s *Subscription) StartDate() (time.Time, error) {
	if !s.Active {
		return time.Time{}, fmt.Errorf("%w: subscription %d is inactive", ErrInvalidState, s.ID)
	}
	return s.ActivatedAt, nil
}

// StopDate is the latest deactivation time. Only valid while inactive.
func (s *Subscription) StopDate() (time.Time, error) {
	if s.Active {
		return time.Time{}, fmt.Errorf("%w: subscription %d is active", ErrInvalidState, s.ID)
	}
	return s.DeactivatedAt, nil
}

func (s *Subscription) Activate(ctx context.Context) error {
	return s.update(ctx, Values{FieldSubStatus: true})
}

func (s *Subscription) Deactivate(ctx context.Context) error {
	return s.update(ctx, Values{FieldSubStatus: false})
}

// Touch records an access.
func (s *Subscription) Touch(ctx context.Context) error {
	return s.update(ctx, Values{FieldSubAccessed: time.Now()})
}

func (s *Subscription) update(ctx context.Context, values Values) error {
	cursor, err := s.backend.FetchSubscriptions(Conditions{FieldSubID: s.ID})
	if err != nil {
		return err
	}
	if err := cursor.Update(ctx, values); err != nil {
		return err
	}
	fresh, err := s.backend.GetSubscription(ctx, s.ID)
	if err != nil {
		return err
	}
	s.SubscriptionData = fresh.SubscriptionData
	return nil
}

// Delete removes the subscription and its queue entries.
func (s *Subscription) Delete(ctx context.Context) error {
	return s.backend.DeleteSubscription(ctx, s.ID)
}

// Channel loads the channel the subscription is bound to.
func (s *Subscription) Channel(ctx context.Context) (*Channel, error) {
	return s.backend.GetChannel(ctx, s.ChannelID)
}

// Fetch iterates the subscription's queue.
func (s *Subscription) Fetch(conds Conditions) (Cursor[*Message], error) {
	return s.backend.Fetch(conds.With(FieldSubID, s.ID))
}
