package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/invalidation"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

type State int

const (
	StateConnecting State = iota
	StateLive
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateLive:
		return "Live"
	case StateReconnecting:
		return "Reconnecting"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// Status is a snapshot of one watched filter.
type Status struct {
	Filter   models.RealtimeFilter
	State    State
	Watchers int
	Keys     []models.QueryKey
	// Attempts counts reconnection attempts since the last disconnect.
	Attempts int
	LastErr  error
	Events   uint64
}

// FailureHook is called once when a channel is given up on.
type FailureHook func(filter models.RealtimeFilter, err error)

type Bridge struct {
	subscriber remote.Subscriber
	bus        *invalidation.Bus
	newRetryer func() Retryer
	onFailure  FailureHook
	logger     logger.Logger

	mu      sync.Mutex
	watches map[string]*watch
	closed  bool
}

type watch struct {
	filter  models.RealtimeFilter
	keys    []models.QueryKey
	keyRefs map[string]int
	refs    int
	channel remote.Channel

	state    State
	attempts int
	lastErr  error
	events   uint64
	initErr  error

	ctx    context.Context
	cancel context.CancelFunc
	// ready is closed once the first Subscribe returned.
	ready chan struct{}
	// done is closed when the pump goroutine exits.
	done chan struct{}
}

// addKeys counts one reference for each distinct key.
func (w *watch) addKeys(keys []models.QueryKey) {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		id := k.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if w.keyRefs[id] == 0 {
			w.keys = append(w.keys, append(models.QueryKey(nil), k...))
		}
		w.keyRefs[id]++
	}
}

// removeKeys drops one reference for each distinct key and forgets the keys
// nothing references any more. Keys that were never added are ignored.
func (w *watch) removeKeys(keys []models.QueryKey) {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		id := k.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if w.keyRefs[id] == 0 {
			continue
		}
		w.keyRefs[id]--
		if w.keyRefs[id] > 0 {
			continue
		}
		delete(w.keyRefs, id)
		for i, wk := range w.keys {
			if wk.String() == id {
				w.keys = append(w.keys[:i:i], w.keys[i+1:]...)
				break
			}
		}
	}
}

type Option func(*Bridge)

func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithRetryer sets the factory of the per-channel reconnection policy.
func WithRetryer(newRetryer func() Retryer) Option {
	return func(b *Bridge) {
		b.newRetryer = newRetryer
	}
}

func WithFailureHook(fn FailureHook) Option {
	return func(b *Bridge) {
		b.onFailure = fn
	}
}

// NewBridge creates a Bridge that opens channels on sub and publishes to bus.
func NewBridge(sub remote.Subscriber, bus *invalidation.Bus, opts ...Option) *Bridge {
	b := &Bridge{
		subscriber: sub,
		bus:        bus,
		newRetryer: func() Retryer { return NewExponentialBackoffRetryer() },
		logger:     logger.Default(),
		watches:    make(map[string]*watch),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Watch makes every event matching filter publish keys. Watching a filter
// that is already watched adds a reference and merges keys into its key set
// instead of opening a second channel. Every successful Watch must be paired
// with one Unwatch given the same keys.
func (b *Bridge) Watch(ctx context.Context, filter models.RealtimeFilter, keys ...models.QueryKey) error {
	if filter.Table == "" {
		return fmt.Errorf("%w: realtime filter without table", constants.ErrInvalidQuery)
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("%w: %v", constants.ErrInvalidQuery, err)
		}
	}

	id := filter.String()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return constants.ErrClosed
	}
	if w, ok := b.watches[id]; ok {
		w.refs++
		w.addKeys(keys)
		b.mu.Unlock()

		<-w.ready
		return w.initErr
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &watch{
		filter:  filter,
		keyRefs: make(map[string]int),
		refs:    1,
		state:   StateConnecting,
		ctx:     wctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.addKeys(keys)
	b.watches[id] = w
	b.mu.Unlock()

	ch, err := b.subscriber.Subscribe(ctx, filter)

	b.mu.Lock()
	switch {
	case err != nil:
		w.initErr = fmt.Errorf("open live channel %s: %w", id, err)
	case wctx.Err() != nil:
		w.initErr = constants.ErrClosed
	}
	if w.initErr != nil {
		if b.watches[id] == w {
			delete(b.watches, id)
		}
		cancel()
		close(w.ready)
		close(w.done)
		b.mu.Unlock()
		if ch != nil {
			_ = b.subscriber.Unsubscribe(context.Background(), ch)
		}
		return w.initErr
	}
	w.channel = ch
	w.state = StateLive
	close(w.ready)
	b.mu.Unlock()

	b.logger.Debug("Live channel opened", "filter", id, "channel", ch.ID())
	go b.pump(w, ch)
	return nil
}

// pump forwards events of w until it is unwatched or given up on.
func (b *Bridge) pump(w *watch, ch remote.Channel) {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				if w.ctx.Err() != nil {
					return
				}
				next, ok := b.reconnect(w, ch.Err())
				if !ok {
					return
				}
				ch = next
				continue
			}
			if ev.Table != "" && ev.Table != w.filter.Table {
				continue
			}
			b.publish(w, true)
		}
	}
}

func (b *Bridge) publish(w *watch, event bool) {
	b.mu.Lock()
	if event {
		w.events++
	}
	keys := append([]models.QueryKey(nil), w.keys...)
	b.mu.Unlock()

	b.bus.PublishMany(keys)
}

// reconnect reopens the channel of w. It returns false when the watch was
// removed or the retryer gave up.
func (b *Bridge) reconnect(w *watch, cause error) (remote.Channel, bool) {
	if cause == nil {
		cause = constants.ErrChannelClosed
	}
	id := w.filter.String()

	b.mu.Lock()
	w.state = StateReconnecting
	w.lastErr = cause
	w.attempts = 0
	w.channel = nil
	b.mu.Unlock()
	b.logger.Warn("Live channel disconnected", "filter", id, "error", cause)

	retryer := b.newRetryer()
	lastErr := cause
	for attempt := 0; ; attempt++ {
		delay, ok := retryer.NextDelay(attempt, lastErr)
		if !ok {
			b.mu.Lock()
			w.state = StateFailed
			w.lastErr = lastErr
			b.mu.Unlock()

			b.logger.Error("Live channel failed permanently", "filter", id, "attempts", attempt, "error", lastErr)
			if b.onFailure != nil {
				b.onFailure(w.filter, lastErr)
			}
			return nil, false
		}

		t := time.NewTimer(delay)
		select {
		case <-w.ctx.Done():
			t.Stop()
			return nil, false
		case <-t.C:
		}

		ch, err := b.subscriber.Subscribe(w.ctx, w.filter)

		b.mu.Lock()
		w.attempts = attempt + 1
		if err != nil {
			w.lastErr = err
			b.mu.Unlock()
			if w.ctx.Err() != nil {
				return nil, false
			}
			lastErr = err
			b.logger.Debug("Live channel reconnect attempt failed", "filter", id, "attempt", attempt, "error", err)
			continue
		}
		if w.ctx.Err() != nil {
			b.mu.Unlock()
			_ = b.subscriber.Unsubscribe(context.Background(), ch)
			return nil, false
		}
		w.channel = ch
		w.state = StateLive
		w.attempts = 0
		w.lastErr = nil
		b.mu.Unlock()

		retryer.Reset()
		b.logger.Info("Live channel restored", "filter", id, "channel", ch.ID(), "attempts", attempt+1)

		// Events may have been missed while disconnected.
		b.publish(w, false)
		return ch, true
	}
}

// Unwatch drops one reference to filter along with the keys that reference
// brought. A key stays published while another Watch of filter still holds
// it. The channel is closed when the last reference goes; Unwatch then
// waits until no more publishes can happen for it.
func (b *Bridge) Unwatch(filter models.RealtimeFilter, keys ...models.QueryKey) error {
	id := filter.String()

	b.mu.Lock()
	w, ok := b.watches[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", constants.ErrNotWatched, id)
	}
	<-w.ready

	b.mu.Lock()
	if b.watches[id] != w {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", constants.ErrNotWatched, id)
	}
	w.refs--
	if w.refs > 0 {
		w.removeKeys(keys)
		b.mu.Unlock()
		return nil
	}
	delete(b.watches, id)
	ch := w.channel
	w.channel = nil
	w.cancel()
	b.mu.Unlock()

	return b.shutdown(w, ch)
}

func (b *Bridge) shutdown(w *watch, ch remote.Channel) error {
	var err error
	if ch != nil {
		err = b.subscriber.Unsubscribe(context.Background(), ch)
	}
	<-w.done
	b.logger.Debug("Live channel closed", "filter", w.filter.String())
	return err
}

// Status returns a snapshot of filter.
func (b *Bridge) Status(filter models.RealtimeFilter) (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.watches[filter.String()]
	if !ok {
		return Status{}, false
	}
	return w.status(), true
}

func (b *Bridge) Statuses() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Status, 0, len(b.watches))
	for _, w := range b.watches {
		out = append(out, w.status())
	}
	return out
}

// status is called with the bridge lock held.
func (w *watch) status() Status {
	return Status{
		Filter:   w.filter,
		State:    w.state,
		Watchers: w.refs,
		Keys:     append([]models.QueryKey(nil), w.keys...),
		Attempts: w.attempts,
		LastErr:  w.lastErr,
		Events:   w.events,
	}
}

// Close unwatches every filter regardless of references.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	type pending struct {
		w  *watch
		ch remote.Channel
	}
	all := make([]pending, 0, len(b.watches))
	for id, w := range b.watches {
		all = append(all, pending{w: w, ch: w.channel})
		w.channel = nil
		w.cancel()
		delete(b.watches, id)
	}
	b.mu.Unlock()

	var firstErr error
	for _, p := range all {
		<-p.w.ready
		if err := b.shutdown(p.w, p.ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
