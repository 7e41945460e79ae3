package apubsub

import (
	"context"
	"errors"
	"fmt"
)

// Subscriber is a logical identity aggregating subscriptions across
// channels. It is a view over subscriptions, not a stored entity.
type Subscriber struct {
	Name    string
	backend Backend
}

// NewSubscriber binds name to b.
func NewSubscriber(b Backend, name string) *Subscriber {
	return &Subscriber{Name: name, backend: b}
}

func (s *Subscriber) Backend() Backend { return s.backend }

// checkName rejects the empty name, which would select anonymous
// subscriptions.
func (s *Subscriber) checkName() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty subscriber name", ErrInvalidValue)
	}
	return nil
}

// Subscribe returns the subscriber's subscription on channelID, creating an
// active one when there is none.
func (s *Subscriber) Subscribe(ctx context.Context, channelID string) (*Subscription, error) {
	if err := s.checkName(); err != nil {
		return nil, err
	}
	sub, err := s.GetSubscriptionFor(ctx, channelID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrSubscriptionDoesNotExist) {
		return nil, err
	}
	sub, err = s.backend.Subscribe(ctx, channelID, s.Name)
	if errors.Is(err, ErrSubscriptionAlreadyExists) {
		// lost a creation race
		return s.GetSubscriptionFor(ctx, channelID)
	}
	return sub, err
}

// Unsubscribe deletes the subscription on channelID, if any.
func (s *Subscriber) Unsubscribe(ctx context.Context, channelID string) error {
	sub, err := s.GetSubscriptionFor(ctx, channelID)
	if errors.Is(err, ErrSubscriptionDoesNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.backend.DeleteSubscription(ctx, sub.ID)
}

// GetSubscriptionFor fails with ErrSubscriptionDoesNotExist when the
// subscriber has no subscription on channelID.
func (s *Subscriber) GetSubscriptionFor(ctx context.Context, channelID string) (*Subscription, error) {
	if err := s.checkName(); err != nil {
		return nil, err
	}
	cursor, err := s.backend.FetchSubscriptions(Conditions{
		FieldSubscriberName: s.Name,
		FieldChannelID:      channelID,
	})
	if err != nil {
		return nil, err
	}
	if err := cursor.SetLimit(1); err != nil {
		return nil, err
	}
	subs, err := cursor.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: %s on channel %s", ErrSubscriptionDoesNotExist, s.Name, channelID)
	}
	return subs[0], nil
}

func (s *Subscriber) HasSubscriptionFor(ctx context.Context, channelID string) (bool, error) {
	_, err := s.GetSubscriptionFor(ctx, channelID)
	if errors.Is(err, ErrSubscriptionDoesNotExist) {
		return false, nil
	}
	return err == nil, err
}

// GetSubscriptions returns every subscription of the subscriber.
func (s *Subscriber) GetSubscriptions(ctx context.Context) ([]*Subscription, error) {
	if err := s.checkName(); err != nil {
		return nil, err
	}
	cursor, err := s.backend.FetchSubscriptions(Conditions{FieldSubscriberName: s.Name})
	if err != nil {
		return nil, err
	}
	return cursor.Fetch(ctx)
}

// Fetch iterates the queue entries of every subscription of the subscriber.
func (s *Subscriber) Fetch(conds Conditions) (Cursor[*Message], error) {
	if err := s.checkName(); err != nil {
		return nil, err
	}
	return s.backend.Fetch(conds.With(FieldSubscriberName, s.Name))
}

// Delete removes every subscription of the subscriber.
func (s *Subscriber) Delete(ctx context.Context) error {
	return s.backend.DeleteSubscriber(ctx, s.Name)
}
