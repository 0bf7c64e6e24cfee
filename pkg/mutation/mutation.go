// Package mutation runs remote writes and announces which cached reads they
// affect. A mutation never writes to the record store; the invalidation it
// publishes after a confirmed write makes subscribed readers refetch.
package mutation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/invalidation"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Action performs one remote write and returns its result.
type Action func(ctx context.Context) (any, error)

type Runner struct {
	bus    *invalidation.Bus
	logger logger.Logger
	now    func() time.Time
}

type Option func(*Runner)

func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner publishing to bus.
func New(bus *invalidation.Bus, opts ...Option) *Runner {
	r := &Runner{
		bus:    bus,
		logger: logger.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Prepare creates an idle Record for action. Nothing runs until Exec.
func (r *Runner) Prepare(action Action, keys ...models.QueryKey) *Record {
	return &Record{
		runner: r,
		action: action,
		keys:   append([]models.QueryKey(nil), keys...),
		status: StatusIdle,
	}
}

// Run executes action and, only if it succeeds, publishes keys.
// Mutations are independent: there is no ordering between concurrent runs.
func (r *Runner) Run(ctx context.Context, action Action, keys ...models.QueryKey) (*Record, error) {
	rec := r.Prepare(action, keys...)
	_, err := rec.Exec(ctx)
	return rec, err
}

// Record is one mutation and its latest outcome.
type Record struct {
	runner *Runner
	action Action
	keys   []models.QueryKey

	onSuccess []func(result any)
	onError   []func(err error)

	mu        sync.Mutex
	status    Status
	result    any
	err       error
	startedAt time.Time
	settledAt time.Time
}

// OnSuccess adds a hook called after the write succeeded and the affected
// keys were published.
func (m *Record) OnSuccess(fn func(result any)) *Record {
	m.onSuccess = append(m.onSuccess, fn)
	return m
}

// OnError adds a hook called when the write failed.
func (m *Record) OnError(fn func(err error)) *Record {
	m.onError = append(m.onError, fn)
	return m
}

// Exec runs the action. On failure the error is returned as is, nothing is
// published and the cache is untouched.
func (m *Record) Exec(ctx context.Context) (any, error) {
	r := m.runner
	for _, k := range m.keys {
		if err := k.Validate(); err != nil {
			return nil, m.fail(fmt.Errorf("%w: affected key: %v", constants.ErrInvalidQuery, err))
		}
	}
	if m.action == nil {
		return nil, m.fail(fmt.Errorf("%w: nil mutation action", constants.ErrInvalidQuery))
	}

	m.mu.Lock()
	m.status = StatusPending
	m.result, m.err = nil, nil
	m.startedAt = r.now()
	m.settledAt = time.Time{}
	m.mu.Unlock()

	result, err := m.action(ctx)
	if err != nil {
		r.logger.Warn("Mutation failed", "keys", len(m.keys), "error", err)
		return nil, m.fail(err)
	}

	m.mu.Lock()
	m.status = StatusSuccess
	m.result = result
	m.settledAt = r.now()
	m.mu.Unlock()

	// Publish strictly after the write was acknowledged.
	n := r.bus.PublishMany(m.keys)
	r.logger.Debug("Mutation succeeded", "keys", len(m.keys), "callbacks", n)

	for _, fn := range m.onSuccess {
		fn(result)
	}
	return result, nil
}

func (m *Record) fail(err error) error {
	m.mu.Lock()
	m.status = StatusError
	m.err = err
	m.settledAt = m.runner.now()
	m.mu.Unlock()

	for _, fn := range m.onError {
		fn(err)
	}
	return err
}

func (m *Record) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Record) Result() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Record) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// AffectedKeys returns the keys published when the mutation succeeds.
func (m *Record) AffectedKeys() []models.QueryKey {
	return append([]models.QueryKey(nil), m.keys...)
}

// Duration is the time the last Exec took to settle, or zero while pending.
func (m *Record) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settledAt.IsZero() || m.startedAt.IsZero() {
		return 0
	}
	return m.settledAt.Sub(m.startedAt)
}
