package whyfail

import (
	"context"
	"errors"
	"time"

	"github.com/whyfailclub/whyfail.go/pkg/invalidation"
	"github.com/whyfailclub/whyfail.go/pkg/live"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/mutation"
	"github.com/whyfailclub/whyfail.go/pkg/query"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
	"github.com/whyfailclub/whyfail.go/pkg/store"
)

// Client is the data-sync core bound to one backend.
type Client struct {
	backend  remote.Collaborator
	identity remote.Identity
	logger   logger.Logger

	store     *store.Store
	bus       *invalidation.Bus
	queries   *query.Runner
	mutations *mutation.Runner
	bridge    *live.Bridge
}

type options struct {
	logger     logger.Logger
	identity   remote.Identity
	staleTime  time.Duration
	gcGrace    time.Duration
	now        func() time.Time
	newRetryer func() live.Retryer
	onFailure  live.FailureHook
	gcSet      bool
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithIdentity sets where services get the signed-in user from.
func WithIdentity(id remote.Identity) Option {
	return func(o *options) {
		o.identity = id
	}
}

// WithStaleTime sets how long a successful read counts as fresh.
func WithStaleTime(d time.Duration) Option {
	return func(o *options) {
		o.staleTime = d
	}
}

// WithGCGrace sets how long an entry nobody observes is kept.
func WithGCGrace(d time.Duration) Option {
	return func(o *options) {
		o.gcGrace = d
		o.gcSet = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithRetryer sets the reconnect policy of live channels. newRetryer is
// called once per disconnect.
func WithRetryer(newRetryer func() live.Retryer) Option {
	return func(o *options) {
		o.newRetryer = newRetryer
	}
}

// WithFailureHook is called when a live channel is given up on.
func WithFailureHook(fn live.FailureHook) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

// New builds a client over backend. Close closes the backend too.
func New(backend remote.Collaborator, opts ...Option) *Client {
	o := options{
		logger:   logger.Default(),
		identity: remote.StaticIdentity(""),
		now:      time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}

	s := store.New(store.WithClock(o.now))
	bus := invalidation.NewBus(invalidation.WithLogger(o.logger))

	queryOpts := []query.Option{
		query.WithLogger(o.logger),
		query.WithDefaultStaleTime(o.staleTime),
		query.WithClock(o.now),
	}
	if o.gcSet {
		queryOpts = append(queryOpts, query.WithGCGrace(o.gcGrace))
	}

	bridgeOpts := []live.Option{live.WithLogger(o.logger)}
	if o.newRetryer != nil {
		bridgeOpts = append(bridgeOpts, live.WithRetryer(o.newRetryer))
	}
	if o.onFailure != nil {
		bridgeOpts = append(bridgeOpts, live.WithFailureHook(o.onFailure))
	}

	return &Client{
		backend:   backend,
		identity:  o.identity,
		logger:    o.logger,
		store:     s,
		bus:       bus,
		queries:   query.New(s, bus, queryOpts...),
		mutations: mutation.New(bus, mutation.WithLogger(o.logger), mutation.WithClock(o.now)),
		bridge:    live.NewBridge(backend, bus, bridgeOpts...),
	}
}

func (c *Client) Backend() remote.Collaborator { return c.backend }
func (c *Client) Store() *store.Store          { return c.store }
func (c *Client) Bus() *invalidation.Bus       { return c.bus }
func (c *Client) Queries() *query.Runner       { return c.queries }
func (c *Client) Mutations() *mutation.Runner  { return c.mutations }
func (c *Client) Bridge() *live.Bridge         { return c.bridge }
func (c *Client) Logger() logger.Logger        { return c.logger }

// CurrentUser returns the signed-in user id, or ErrNotAuthenticated.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	uid, err := c.identity.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", ErrNotAuthenticated
	}
	return uid, nil
}

// Watch invalidates keys whenever a row matching filter changes.
func (c *Client) Watch(ctx context.Context, filter models.RealtimeFilter, keys ...models.QueryKey) error {
	return c.bridge.Watch(ctx, filter, keys...)
}

// Unwatch drops one Watch of filter. Pass the keys given to that Watch.
func (c *Client) Unwatch(filter models.RealtimeFilter, keys ...models.QueryKey) error {
	return c.bridge.Unwatch(filter, keys...)
}

// Invalidate marks keys stale, refetching those that are observed.
func (c *Client) Invalidate(keys ...models.QueryKey) int {
	return c.bus.PublishMany(keys)
}

// Wait blocks until refetches started by invalidations have settled.
func (c *Client) Wait() {
	c.queries.Wait()
}

// Close stops live channels and pending refetches, then closes the backend.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if err := c.bridge.Close(); err != nil {
		errs = append(errs, err)
	}
	c.queries.Close()
	if err := c.backend.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
