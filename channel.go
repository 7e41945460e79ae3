package apubsub

import (
	"context"
	"time"
)

// ChannelData is the persisted state of a channel.
type ChannelData struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Channel is a named message stream bound to its backend.
type Channel struct {
	ChannelData
	backend Backend
}

// NewChannel binds d to b.
func NewChannel(b Backend, d ChannelData) *Channel {
	return &Channel{ChannelData: d, backend: b}
}

func (c *Channel) Backend() Backend { return c.backend }

// Subscribe creates an inactive anonymous subscription on the channel.
// Subscriber.Subscribe is the path that activates right away.
func (c *Channel) Subscribe(ctx context.Context) (*Subscription, error) {
	return c.backend.Subscribe(ctx, c.ID, "")
}

// Send sends contents to this channel only.
func (c *Channel) Send(ctx context.Context, contents any, opts ...SendOption) (*Message, error) {
	return c.backend.Send(ctx, []string{c.ID}, contents, opts...)
}

// Delete deletes the channel and everything it owns.
func (c *Channel) Delete(ctx context.Context) error {
	return c.backend.DeleteChannel(ctx, c.ID, true)
}

// SetTitle renames the channel.
func (c *Channel) SetTitle(ctx context.Context, title string) error {
	cursor, err := c.backend.FetchChannels(Conditions{FieldChannelID: c.ID})
	if err != nil {
		return err
	}
	if err := cursor.Update(ctx, Values{FieldChanTitle: title}); err != nil {
		return err
	}
	c.Title = title
	return nil
}

// Fetch iterates queue entries of every subscription on the channel.
func (c *Channel) Fetch(conds Conditions) (Cursor[*Message], error) {
	return c.backend.Fetch(conds.With(FieldChannelID, c.ID))
}

// FetchSubscriptions iterates the subscriptions on the channel.
func (c *Channel) FetchSubscriptions(conds Conditions) (Cursor[*Subscription], error) {
	return c.backend.FetchSubscriptions(conds.With(FieldChannelID, c.ID))
}
