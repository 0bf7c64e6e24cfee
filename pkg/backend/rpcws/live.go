package rpcws

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/whyfailclub/whyfail.go/pkg/backend/rpcws/wire"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

var (
	// ErrDisconnected wraps the transport error of a dropped connection.
	ErrDisconnected = errors.New("rpcws: disconnected")
	// ErrChannelClosedByServer is the Err of a channel the server closed.
	ErrChannelClosedByServer = errors.New("rpcws: channel closed by server")

	errOverflow = errors.New("rpcws: event buffer overflow")
)

type channel struct {
	id     string
	filter models.RealtimeFilter
	events chan remote.Event
	err    error
	closed bool
}

func (ch *channel) ID() string                    { return ch.id }
func (ch *channel) Filter() models.RealtimeFilter { return ch.filter }
func (ch *channel) Events() <-chan remote.Event   { return ch.events }
func (ch *channel) Err() error                    { return ch.err }

// deliver and close are called with the client lock held.
func (ch *channel) deliver(ev remote.Event) bool {
	if ch.closed {
		return true
	}
	select {
	case ch.events <- ev:
		return true
	default:
		return false
	}
}

func (ch *channel) close(err error) {
	if ch.closed {
		return
	}
	ch.closed = true
	ch.err = err
	close(ch.events)
}

// Subscribe opens a live channel. The channel is registered before the
// request is sent, so events the server pushes right after accepting it
// are not lost.
func (c *Client) Subscribe(ctx context.Context, filter models.RealtimeFilter) (remote.Channel, error) {
	ch := &channel{
		id:     uuid.Must(uuid.NewV4()).String(),
		filter: filter,
		events: make(chan remote.Event, c.buffer),
	}

	if _, err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.channels[ch.id] = ch
	c.mu.Unlock()

	if _, err := c.Send(ctx, wire.MethodSubscribe, ch.id, filter.Table, filter.Predicate()); err != nil {
		c.mu.Lock()
		if c.channels[ch.id] == ch {
			delete(c.channels, ch.id)
		}
		ch.close(err)
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return ch, nil
}

// Unsubscribe closes ch. A channel already dropped with its connection
// needs no server round trip.
func (c *Client) Unsubscribe(ctx context.Context, rc remote.Channel) error {
	c.mu.Lock()
	ch, ok := c.channels[rc.ID()]
	if ok {
		delete(c.channels, ch.id)
		ch.close(nil)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := c.Send(ctx, wire.MethodUnsubscribe, ch.id); err != nil && !errors.Is(err, ErrDisconnected) {
		return fmt.Errorf("unsubscribe %s: %w", ch.filter, err)
	}
	return nil
}
