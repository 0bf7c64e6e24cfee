// Package memory is an in-process backend adapter. Tables are slices of
// rows, procedures are Go functions and live channels are fed synchronously
// from writes. Failures can be injected per operation, and Disconnect drops
// every open channel, which is how the core is tested without a network.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// Op names an operation for failure injection and call counting.
type Op string

const (
	OpSelect      Op = "select"
	OpInsert      Op = "insert"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpInvoke      Op = "invoke"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

// Procedure implements a remote procedure.
type Procedure func(ctx context.Context, args map[string]any) (any, error)

type Backend struct {
	mu       sync.Mutex
	tables   map[string][]remote.Row
	procs    map[string]Procedure
	channels map[string]*channel
	failures map[Op][]error
	calls    map[Op]int
	closed   bool

	now    func() time.Time
	newID  func() string
	buffer int
	logger logger.Logger
}

type Option func(*Backend)

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithIDGenerator replaces the UUIDv4 generator used for rows and channels.
func WithIDGenerator(fn func() string) Option {
	return func(b *Backend) {
		b.newID = fn
	}
}

// WithEventBuffer sets the capacity of each channel's event queue. A channel
// whose queue is full is disconnected rather than blocking writers.
func WithEventBuffer(n int) Option {
	return func(b *Backend) {
		b.buffer = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[string][]remote.Row),
		procs:    make(map[string]Procedure),
		channels: make(map[string]*channel),
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
		now:      time.Now,
		newID:    newUUID,
		buffer:   constants.DefaultEventBuffer,
		logger:   logger.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func newUUID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Register installs (or replaces) a procedure.
func (b *Backend) Register(name string, fn Procedure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procs[name] = fn
}

// FailNext makes the next call of op return err. Calls queue up: FailNext
// twice fails the next two calls.
func (b *Backend) FailNext(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

// Calls returns how many times op was called.
func (b *Backend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// begin counts the call and pops an injected failure. Callers hold mu.
func (b *Backend) begin(ctx context.Context, op Op) error {
	b.calls[op]++
	if b.closed {
		return constants.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := b.failures[op]; len(q) > 0 {
		err := q[0]
		b.failures[op] = q[1:]
		return err
	}
	return nil
}

// Seed stores rows without emitting events, filling ids and timestamps
// the same way Insert does.
func (b *Backend) Seed(table string, rows ...remote.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range rows {
		if _, err := b.store(table, r); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns a copy of every row of table in insertion order.
func (b *Backend) Rows(table string) []remote.Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]remote.Row, 0, len(b.tables[table]))
	for _, r := range b.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

func (b *Backend) Tables() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.tables))
	for t := range b.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (b *Backend) Select(ctx context.Context, q remote.SelectQuery) ([]remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ctx, OpSelect); err != nil {
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	rows, err := remote.Apply(b.tables[q.Table], q)
	if err != nil {
		if remote.IsNoRows(err) {
			return nil, err
		}
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	return rows, nil
}

func (b *Backend) Insert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ctx, OpInsert); err != nil {
		return nil, &remote.WriteError{Op: string(OpInsert), Table: table, Err: err}
	}
	stored, err := b.store(table, row)
	if err != nil {
		return nil, &remote.WriteError{Op: string(OpInsert), Table: table, Err: err}
	}
	b.emit(remote.Event{Table: table, Action: remote.InsertAction, Record: stored.Clone()})
	return stored.Clone(), nil
}

// store appends a copy of row with id and created_at filled in. Callers hold mu.
func (b *Backend) store(table string, row remote.Row) (remote.Row, error) {
	if table == "" {
		return nil, fmt.Errorf("%w: table is required", constants.ErrInvalidQuery)
	}
	r := row.Clone()
	if r == nil {
		r = remote.Row{}
	}
	if id, ok := r["id"]; !ok || id == nil || id == "" {
		r["id"] = b.newID()
	}
	for _, existing := range b.tables[table] {
		if fmt.Sprint(existing["id"]) == fmt.Sprint(r["id"]) {
			return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, r["id"])
		}
	}
	if v, ok := r["created_at"]; !ok || v == nil {
		r["created_at"] = b.timestamp()
	}
	b.tables[table] = append(b.tables[table], r)
	return r, nil
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(constants.TimestampLayout)
}

func (b *Backend) Update(ctx context.Context, table string, filters []remote.Filter, patch remote.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ctx, OpUpdate); err != nil {
		return &remote.WriteError{Op: string(OpUpdate), Table: table, Err: err}
	}
	if err := checkFilters(filters); err != nil {
		return &remote.WriteError{Op: string(OpUpdate), Table: table, Err: err}
	}

	var events []remote.Event
	for _, r := range b.tables[table] {
		if !remote.MatchAll(r, filters) {
			continue
		}
		old := r.Clone()
		for k, v := range patch.Clone() {
			if k == "id" {
				continue
			}
			r[k] = v
		}
		if _, ok := r["updated_at"]; ok {
			if _, patched := patch["updated_at"]; !patched {
				r["updated_at"] = b.timestamp()
			}
		}
		events = append(events, remote.Event{Table: table, Action: remote.UpdateAction, Record: r.Clone(), Old: old})
	}
	for _, ev := range events {
		b.emit(ev)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ctx, OpDelete); err != nil {
		return &remote.WriteError{Op: string(OpDelete), Table: table, Err: err}
	}
	if err := checkFilters(filters); err != nil {
		return &remote.WriteError{Op: string(OpDelete), Table: table, Err: err}
	}

	kept := b.tables[table][:0:0]
	var events []remote.Event
	for _, r := range b.tables[table] {
		if remote.MatchAll(r, filters) {
			events = append(events, remote.Event{Table: table, Action: remote.DeleteAction, Old: r.Clone()})
			continue
		}
		kept = append(kept, r)
	}
	b.tables[table] = kept
	for _, ev := range events {
		b.emit(ev)
	}
	return nil
}

// checkFilters refuses unfiltered updates and deletes.
func checkFilters(filters []remote.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: refusing to modify every row without a filter", constants.ErrInvalidQuery)
	}
	return remote.ValidateFilters(filters)
}

func (b *Backend) Invoke(ctx context.Context, procedure string, args map[string]any) (any, error) {
	b.mu.Lock()
	if err := b.begin(ctx, OpInvoke); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	fn, ok := b.procs[procedure]
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrUnknownProcedure, procedure)
	}
	// Procedures may call back into the backend, so no lock is held here.
	return fn(ctx, args)
}

// Close disconnects every channel and rejects further calls.
func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, c := range b.channels {
		c.close(constants.ErrClosed)
		delete(b.channels, id)
	}
	return nil
}

var _ remote.Collaborator = (*Backend)(nil)

// Filter is a convenience for building realtime filters in tests.
func Filter(table, predicate string) models.RealtimeFilter {
	f, err := models.ParseRealtimeFilter(table, predicate)
	if err != nil {
		panic(err)
	}
	return f
}
