// Package query connects a view's need for data at a QueryKey to the record
// store and a fetcher, with in-flight de-duplication, stale-while-revalidate
// and invalidation-driven refetching.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/invalidation"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
	"github.com/whyfailclub/whyfail.go/pkg/store"
)

// Fetcher performs the remote read for one key. Returning an error that
// wraps constants.ErrNoRows settles the key successfully with no data.
type Fetcher func(ctx context.Context) (any, error)

// View is notified with a snapshot of the entry after every settle of its key.
type View func(entry store.Entry)

type Runner struct {
	store *store.Store
	bus   *invalidation.Bus
	group singleflight.Group

	staleTime time.Duration
	gcGrace   time.Duration
	now       func() time.Time
	logger    logger.Logger

	mu       sync.Mutex
	keys     map[string]*keyState
	started  map[string]uint64
	nextView uint64
	closed   bool

	wg sync.WaitGroup
}

// keyState tracks the views of one key and its single bus registration.
type keyState struct {
	key     models.QueryKey
	fetcher Fetcher
	views   []viewEntry
	busID   invalidation.SubscriptionID
	bound   bool
	queued  bool
	timer   *time.Timer
}

type viewEntry struct {
	id uint64
	fn View
}

type Option func(*Runner)

func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithDefaultStaleTime sets how long a successful read counts as fresh.
func WithDefaultStaleTime(d time.Duration) Option {
	return func(r *Runner) {
		r.staleTime = d
	}
}

// WithGCGrace sets how long an entry survives after its last view unsubscribes.
func WithGCGrace(d time.Duration) Option {
	return func(r *Runner) {
		r.gcGrace = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner over s that listens for invalidations on bus.
func New(s *store.Store, bus *invalidation.Bus, opts ...Option) *Runner {
	r := &Runner{
		store:     s,
		bus:       bus,
		staleTime: constants.DefaultStaleTime,
		gcGrace:   constants.DefaultGCGrace,
		now:       time.Now,
		logger:    logger.Default(),
		keys:      make(map[string]*keyState),
		started:   make(map[string]uint64),
	}
	for _, o := range opts {
		o(r)
	}
	// Keys read with Ensure alone have no bus registration; a publish still
	// has to end their freshness.
	bus.Observe(func(key models.QueryKey) {
		s.MarkInvalidated(key)
	})
	return r
}

type ensureOptions struct {
	staleTime *time.Duration
	force     bool
}

type EnsureOption func(*ensureOptions)

// WithStaleTime overrides the runner's stale time for one call.
func WithStaleTime(d time.Duration) EnsureOption {
	return func(o *ensureOptions) {
		o.staleTime = &d
	}
}

// WithForce fetches even when the cached entry is fresh.
func WithForce() EnsureOption {
	return func(o *ensureOptions) {
		o.force = true
	}
}

// Ensure returns the entry for key, fetching it first unless the cached
// entry is fresh. Concurrent calls for the same key share one fetch; each
// caller stops waiting when its own ctx is done, while the shared fetch runs
// to completion and still updates the store.
//
// A failed fetch returns the error together with the entry, whose Data is
// the last successful value.
func (r *Runner) Ensure(ctx context.Context, key models.QueryKey, fetcher Fetcher, opts ...EnsureOption) (store.Entry, error) {
	if err := key.Validate(); err != nil {
		return store.Entry{}, fmt.Errorf("%w: %v", constants.ErrInvalidQuery, err)
	}
	if fetcher == nil {
		return store.Entry{}, fmt.Errorf("%w: nil fetcher for %s", constants.ErrInvalidQuery, key)
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return store.Entry{}, constants.ErrClosed
	}

	o := ensureOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	staleTime := r.staleTime
	if o.staleTime != nil {
		staleTime = *o.staleTime
	}

	if !o.force {
		if e, ok := r.store.Get(key); ok && e.Fresh(r.now(), staleTime) {
			return e, nil
		}
	}

	res, err := r.flight(ctx, key, fetcher)
	return res.entry, err
}

// settled is the outcome of one fetch. seq numbers the fetches of a key in
// the order they started.
type settled struct {
	entry store.Entry
	seq   uint64
}

// flight joins the fetch in flight for key or starts one.
func (r *Runner) flight(ctx context.Context, key models.QueryKey, fetcher Fetcher) (settled, error) {
	fctx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.String(), func() (any, error) {
		return r.fetch(fctx, key, fetcher)
	})

	select {
	case res := <-ch:
		s, _ := res.Val.(settled)
		return s, res.Err
	case <-ctx.Done():
		e, _ := r.store.Get(key)
		return settled{entry: e}, ctx.Err()
	}
}

// fetch runs under the singleflight group, so at most one call per key is
// active at any time.
func (r *Runner) fetch(ctx context.Context, key models.QueryKey, fetcher Fetcher) (settled, error) {
	id := key.String()
	r.mu.Lock()
	r.started[id]++
	seq := r.started[id]
	if ks := r.keys[id]; ks != nil {
		// This fetch starts after every invalidation queued so far.
		ks.queued = false
	}
	r.mu.Unlock()

	gen := r.store.MarkLoading(key).Generation
	r.logger.Debug("Fetch started", "key", id, "seq", seq)

	data, err := fetcher(ctx)
	if err != nil && remote.IsNoRows(err) {
		data, err = nil, nil
	}

	var entry store.Entry
	if err != nil {
		entry = r.store.MarkError(key, err)
		r.logger.Warn("Fetch failed", "key", id, "error", err)
	} else {
		entry = r.store.Settle(key, data, gen)
		r.logger.Debug("Fetch settled", "key", id, "seq", seq)
	}

	r.notify(id, entry)
	return settled{entry: entry, seq: seq}, err
}

func (r *Runner) notify(id string, entry store.Entry) {
	r.mu.Lock()
	ks := r.keys[id]
	var views []viewEntry
	if ks != nil {
		views = append(views, ks.views...)
	}
	r.mu.Unlock()

	for _, v := range views {
		v.fn(entry)
	}
}

// Subscribe registers view as interested in key, then ensures the key is
// loaded. While a key has at least one view, a publish of the key on the
// invalidation bus triggers exactly one forced refetch with the most
// recently registered fetcher.
//
// The subscription is returned even when the initial fetch fails; the
// failure is also recorded in the entry.
func (r *Runner) Subscribe(ctx context.Context, key models.QueryKey, fetcher Fetcher, view View, opts ...EnsureOption) (*Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrInvalidQuery, err)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher for %s", constants.ErrInvalidQuery, key)
	}
	if view == nil {
		view = func(store.Entry) {}
	}

	id := key.String()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, constants.ErrClosed
	}
	ks, ok := r.keys[id]
	if !ok {
		ks = &keyState{key: append(models.QueryKey(nil), key...)}
		r.keys[id] = ks
	}
	if ks.timer != nil {
		ks.timer.Stop()
		ks.timer = nil
	}
	ks.fetcher = fetcher
	r.nextView++
	sub := &Subscription{runner: r, key: ks.key, id: r.nextView}
	ks.views = append(ks.views, viewEntry{id: sub.id, fn: view})
	if !ks.bound {
		ks.busID = r.bus.Subscribe(ks.key, r.invalidate)
		ks.bound = true
	}
	r.store.AddSubscriber(key)
	r.mu.Unlock()

	_, err := r.Ensure(ctx, key, fetcher, opts...)
	return sub, err
}

// Unsubscribe removes a view. When the last view of a key leaves, the bus
// registration is dropped and the entry is evicted after the grace period
// unless the key is subscribed again first. An in-flight fetch is not
// cancelled.
func (r *Runner) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	id := sub.key.String()

	r.mu.Lock()
	ks, ok := r.keys[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	found := false
	for i, v := range ks.views {
		if v.id == sub.id {
			ks.views = append(ks.views[:i:i], ks.views[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return false
	}

	r.store.Release(sub.key)

	var busID invalidation.SubscriptionID
	unbind := false
	if len(ks.views) == 0 {
		busID, unbind = ks.busID, ks.bound
		ks.bound = false
		if !r.closed {
			ks.timer = r.armEviction(ks)
		}
	}
	r.mu.Unlock()

	if unbind {
		r.bus.Unsubscribe(ks.key, busID)
	}
	return true
}

// armEviction is called with mu held.
func (r *Runner) armEviction(ks *keyState) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(r.gcGrace, func() {
		id := ks.key.String()
		r.mu.Lock()
		if r.keys[id] != ks || ks.timer != t || len(ks.views) > 0 {
			r.mu.Unlock()
			return
		}
		delete(r.keys, id)
		r.mu.Unlock()

		if r.store.Evict(ks.key) {
			r.logger.Debug("Entry evicted", "key", id)
		}
	})
	return t
}

// invalidate is the single bus callback of a subscribed key. It queues one
// forced refetch. The refetch only counts once it is served by a fetch that
// started after the invalidation; joining an older flight would return data
// read before the change.
func (r *Runner) invalidate(key models.QueryKey) error {
	id := key.String()

	r.mu.Lock()
	ks := r.keys[id]
	if r.closed || ks == nil || len(ks.views) == 0 || ks.queued {
		r.mu.Unlock()
		return nil
	}
	ks.queued = true
	after := r.started[id]
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		for {
			r.mu.Lock()
			fetcher := ks.fetcher
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}

			res, err := r.flight(context.Background(), ks.key, fetcher)
			if res.seq > after {
				if err != nil {
					r.logger.Debug("Refetch after invalidation failed", "key", id, "error", err)
				}
				return
			}
		}
	}()
	return nil
}

// Wait blocks until every refetch started by an invalidation has settled.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Entry returns the cached entry for key.
func (r *Runner) Entry(key models.QueryKey) (store.Entry, bool) {
	return r.store.Get(key)
}

// Close stops eviction timers, drops every bus registration and waits for
// running refetches. Later calls to Ensure or Subscribe return ErrClosed.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var unbind []*keyState
	for _, ks := range r.keys {
		if ks.timer != nil {
			ks.timer.Stop()
			ks.timer = nil
		}
		if ks.bound {
			unbind = append(unbind, ks)
			ks.bound = false
		}
	}
	r.mu.Unlock()

	for _, ks := range unbind {
		r.bus.Unsubscribe(ks.key, ks.busID)
	}
	r.wg.Wait()
}

// Subscription is one view's interest in a key.
type Subscription struct {
	runner *Runner
	key    models.QueryKey
	id     uint64
	once   sync.Once
}

func (s *Subscription) Key() models.QueryKey {
	return s.key
}

// Entry returns the current snapshot of the subscribed key.
func (s *Subscription) Entry() store.Entry {
	e, _ := s.runner.store.Get(s.key)
	return e
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.runner.Unsubscribe(s)
	})
}
