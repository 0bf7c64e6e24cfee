package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

var errOverflow = errors.New("sqlite backend: event buffer overflow")

type channel struct {
	id     string
	filter models.RealtimeFilter
	// since is the change log position at subscription; older changes are
	// not delivered.
	since  int64
	events chan remote.Event
	err    error
	closed bool
}

func (c *channel) ID() string                    { return c.id }
func (c *channel) Filter() models.RealtimeFilter { return c.filter }
func (c *channel) Events() <-chan remote.Event   { return c.events }
func (c *channel) Err() error                    { return c.err }

// close is called with the backend lock held.
func (c *channel) close(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.events)
}

func (b *Backend) Subscribe(ctx context.Context, filter models.RealtimeFilter) (remote.Channel, error) {
	if filter.Table == "" {
		return nil, fmt.Errorf("%w: realtime filter without table", constants.ErrInvalidQuery)
	}
	if b.isClosed() {
		return nil, constants.ErrClosed
	}
	since, err := b.maxSeq(ctx)
	if err != nil {
		return nil, err
	}

	c := &channel{
		id:     uuid.Must(uuid.NewV4()).String(),
		filter: filter,
		since:  since,
		events: make(chan remote.Event, b.buffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, constants.ErrClosed
	}
	b.channels[c.id] = c
	return c, nil
}

func (b *Backend) Unsubscribe(ctx context.Context, ch remote.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.channels[ch.ID()]
	if !ok {
		return nil
	}
	delete(b.channels, c.id)
	c.close(nil)
	return nil
}

func (b *Backend) maxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlite: read change log position: %w", err)
	}
	return seq, nil
}

func (b *Backend) poll(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.tail(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("sqlite change poll failed", "error", err)
			}
		}
	}
}

type change struct {
	seq int64
	ev  remote.Event
}

// tail reads the change log past lastSeq, dispatches it and prunes entries
// older than the retention window.
func (b *Backend) tail(ctx context.Context) error {
	cur, err := b.maxSeq(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	last := b.lastSeq
	b.mu.Unlock()
	if cur <= last {
		return nil
	}

	rs, err := b.db.QueryContext(ctx,
		`SELECT seq, tbl, action, record, old FROM changes WHERE seq > ? AND seq <= ? ORDER BY seq`, last, cur)
	if err != nil {
		return err
	}
	var changes []change
	for rs.Next() {
		var (
			c           change
			action      string
			record, old []byte
		)
		if err := rs.Scan(&c.seq, &c.ev.Table, &action, &record, &old); err != nil {
			rs.Close()
			return err
		}
		c.ev.Action = remote.Action(action)
		if c.ev.Record, err = b.decode(record); err != nil {
			rs.Close()
			return fmt.Errorf("decode change %d: %w", c.seq, err)
		}
		if c.ev.Old, err = b.decode(old); err != nil {
			rs.Close()
			return fmt.Errorf("decode change %d: %w", c.seq, err)
		}
		changes = append(changes, c)
	}
	if err := rs.Close(); err != nil {
		return err
	}

	b.mu.Lock()
	for _, c := range changes {
		b.dispatch(c)
	}
	b.lastSeq = cur
	b.mu.Unlock()

	if b.retention > 0 && cur > b.retention {
		if _, err := b.db.ExecContext(ctx, `DELETE FROM changes WHERE seq <= ?`, cur-b.retention); err != nil {
			return fmt.Errorf("prune change log: %w", err)
		}
	}
	return nil
}

// dispatch is called with the backend lock held.
func (b *Backend) dispatch(c change) {
	for id, ch := range b.channels {
		if c.seq <= ch.since || !c.ev.Matches(ch.filter) {
			continue
		}
		select {
		case ch.events <- c.ev.Clone():
		default:
			b.logger.Warn("Dropping slow live channel", "channel", id, "filter", ch.filter.String())
			ch.close(errOverflow)
			delete(b.channels, id)
		}
	}
}
