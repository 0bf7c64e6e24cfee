package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// ErrDisconnected is the Err of channels dropped by Disconnect.
var ErrDisconnected = errors.New("memory backend: channel disconnected")

// errOverflow is the Err of a channel whose reader fell too far behind.
var errOverflow = errors.New("memory backend: event buffer overflow")

type channel struct {
	id     string
	filter models.RealtimeFilter
	events chan remote.Event
	err    error
	closed bool
}

func (c *channel) ID() string                    { return c.id }
func (c *channel) Filter() models.RealtimeFilter { return c.filter }
func (c *channel) Events() <-chan remote.Event   { return c.events }

// Err is only meaningful after Events is closed.
func (c *channel) Err() error { return c.err }

// close is called with the backend lock held, the same lock emit holds
// while sending, so a send never races the close.
func (c *channel) close(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.events)
}

func (b *Backend) Subscribe(ctx context.Context, filter models.RealtimeFilter) (remote.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ctx, OpSubscribe); err != nil {
		return nil, err
	}
	if filter.Table == "" {
		return nil, fmt.Errorf("%w: realtime filter without table", constants.ErrInvalidQuery)
	}
	c := &channel{
		id:     b.newID(),
		filter: filter,
		events: make(chan remote.Event, b.buffer),
	}
	b.channels[c.id] = c
	return c, nil
}

func (b *Backend) Unsubscribe(ctx context.Context, ch remote.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls[OpUnsubscribe]++
	c, ok := b.channels[ch.ID()]
	if !ok {
		// Already dropped.
		return nil
	}
	delete(b.channels, c.id)
	c.close(nil)
	return nil
}

// emit delivers ev to every matching channel. Callers hold mu.
func (b *Backend) emit(ev remote.Event) {
	for id, c := range b.channels {
		if !ev.Matches(c.filter) {
			continue
		}
		select {
		case c.events <- ev:
		default:
			b.logger.Warn("Dropping slow live channel", "channel", id, "filter", c.filter.String())
			c.close(errOverflow)
			delete(b.channels, id)
		}
	}
}

// Disconnect drops every open channel as a network failure would and
// returns how many were dropped.
func (b *Backend) Disconnect() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, c := range b.channels {
		c.close(ErrDisconnected)
		delete(b.channels, id)
		n++
	}
	return n
}

// Channels returns the number of open channels.
func (b *Backend) Channels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// Emit delivers a synthetic event, as a change made by another process would.
func (b *Backend) Emit(ev remote.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emit(ev)
}
