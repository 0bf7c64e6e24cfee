// Package sqlite is a backend adapter storing rows in a SQLite file.
//
// Every table lives in one generic records table, keyed by table name and
// row id, with the row CBOR-encoded. Writes append to a change log in the
// same transaction; a poller tails the log and feeds live channels, so
// changes committed by another process sharing the file are delivered too.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	_ "modernc.org/sqlite"

	"github.com/whyfailclub/whyfail.go/internal/codec"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	tbl  TEXT NOT NULL,
	id   TEXT NOT NULL,
	body BLOB NOT NULL,
	PRIMARY KEY (tbl, id)
);
CREATE TABLE IF NOT EXISTS changes (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	tbl    TEXT NOT NULL,
	action TEXT NOT NULL,
	record BLOB,
	old    BLOB
);`

// Procedure implements a remote procedure.
type Procedure func(ctx context.Context, args map[string]any) (any, error)

type Backend struct {
	db     *sql.DB
	codec  *codec.CBOR
	now    func() time.Time
	logger logger.Logger

	interval  time.Duration
	retention int64
	buffer    int

	mu       sync.Mutex
	procs    map[string]Procedure
	channels map[string]*channel
	lastSeq  int64
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Backend)

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// WithPollInterval sets how often the change log is tailed.
func WithPollInterval(d time.Duration) Option {
	return func(b *Backend) {
		b.interval = d
	}
}

// WithChangeRetention sets how many change log entries are kept behind the
// newest one. Another process tailing the same file must not fall further
// behind than this.
func WithChangeRetention(n int64) Option {
	return func(b *Backend) {
		b.retention = n
	}
}

func WithEventBuffer(n int) Option {
	return func(b *Backend) {
		b.buffer = n
	}
}

// Open opens (creating if needed) the database at path and starts the
// change poller. ":memory:" gives a private in-process database.
func Open(ctx context.Context, path string, opts ...Option) (*Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: writes serialize in process and ":memory:" stays a
	// single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	b := &Backend{
		db:        db,
		codec:     codec.NewCBOR(),
		now:       time.Now,
		logger:    logger.Default(),
		interval:  constants.DefaultPollInterval,
		retention: 10_000,
		buffer:    constants.DefaultEventBuffer,
		procs:     make(map[string]Procedure),
		channels:  make(map[string]*channel),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	b.lastSeq, err = b.maxSeq(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.poll(pollCtx)
	return b, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Register installs (or replaces) a procedure.
func (b *Backend) Register(name string, fn Procedure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procs[name] = fn
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(constants.TimestampLayout)
}

func (b *Backend) encode(r remote.Row) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return b.codec.Marshal(r)
}

func (b *Backend) decode(data []byte) (remote.Row, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var r remote.Row
	if err := b.codec.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// load reads every row of table in insertion order.
func (b *Backend) load(ctx context.Context, q queryer, table string) ([]remote.Row, error) {
	rs, err := q.QueryContext(ctx, `SELECT body FROM records WHERE tbl = ? ORDER BY rowid`, table)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []remote.Row
	for rs.Next() {
		var body []byte
		if err := rs.Scan(&body); err != nil {
			return nil, err
		}
		r, err := b.decode(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

func (b *Backend) Select(ctx context.Context, q remote.SelectQuery) ([]remote.Row, error) {
	if b.isClosed() {
		return nil, &remote.ReadError{Table: q.Table, Err: constants.ErrClosed}
	}
	if err := q.Validate(); err != nil {
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}

	rows, err := b.load(ctx, b.db, q.Table)
	if err != nil {
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	out, err := remote.Apply(rows, q)
	if err != nil {
		if remote.IsNoRows(err) {
			return nil, err
		}
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	return out, nil
}

// write runs fn in a transaction and appends the events it returns to the
// change log before committing.
func (b *Backend) write(ctx context.Context, fn func(tx *sql.Tx) ([]remote.Event, error)) error {
	if b.isClosed() {
		return constants.ErrClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	events, err := fn(tx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		rec, err := b.encode(ev.Record)
		if err != nil {
			return err
		}
		old, err := b.encode(ev.Old)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (tbl, action, record, old) VALUES (?, ?, ?, ?)`,
			ev.Table, string(ev.Action), rec, old); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) Insert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	var stored remote.Row
	err := b.write(ctx, func(tx *sql.Tx) ([]remote.Event, error) {
		if table == "" {
			return nil, fmt.Errorf("%w: table is required", constants.ErrInvalidQuery)
		}
		r := row.Clone()
		if r == nil {
			r = remote.Row{}
		}
		if id, ok := r["id"]; !ok || id == nil || id == "" {
			r["id"] = uuid.Must(uuid.NewV4()).String()
		}
		if v, ok := r["created_at"]; !ok || v == nil {
			r["created_at"] = b.timestamp()
		}
		id := fmt.Sprint(r["id"])

		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE tbl = ? AND id = ?`, table, id).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if exists > 0 {
			return nil, fmt.Errorf("%w: %s", constants.ErrIDInUse, id)
		}

		body, err := b.encode(r)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO records (tbl, id, body) VALUES (?, ?, ?)`, table, id, body); err != nil {
			return nil, err
		}
		stored = r
		return []remote.Event{{Table: table, Action: remote.InsertAction, Record: r}}, nil
	})
	if err != nil {
		return nil, &remote.WriteError{Op: "insert", Table: table, Err: err}
	}
	return stored.Clone(), nil
}

func (b *Backend) Update(ctx context.Context, table string, filters []remote.Filter, patch remote.Row) error {
	err := b.write(ctx, func(tx *sql.Tx) ([]remote.Event, error) {
		if err := checkFilters(filters); err != nil {
			return nil, err
		}
		rows, err := b.load(ctx, tx, table)
		if err != nil {
			return nil, err
		}

		var events []remote.Event
		for _, r := range rows {
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
			body, err := b.encode(r)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE records SET body = ? WHERE tbl = ? AND id = ?`,
				body, table, fmt.Sprint(r["id"])); err != nil {
				return nil, err
			}
			events = append(events, remote.Event{Table: table, Action: remote.UpdateAction, Record: r, Old: old})
		}
		return events, nil
	})
	if err != nil {
		return &remote.WriteError{Op: "update", Table: table, Err: err}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	err := b.write(ctx, func(tx *sql.Tx) ([]remote.Event, error) {
		if err := checkFilters(filters); err != nil {
			return nil, err
		}
		rows, err := b.load(ctx, tx, table)
		if err != nil {
			return nil, err
		}

		var events []remote.Event
		for _, r := range rows {
			if !remote.MatchAll(r, filters) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND id = ?`,
				table, fmt.Sprint(r["id"])); err != nil {
				return nil, err
			}
			events = append(events, remote.Event{Table: table, Action: remote.DeleteAction, Old: r})
		}
		return events, nil
	})
	if err != nil {
		return &remote.WriteError{Op: "delete", Table: table, Err: err}
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
	if b.closed {
		b.mu.Unlock()
		return nil, constants.ErrClosed
	}
	fn, ok := b.procs[procedure]
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrUnknownProcedure, procedure)
	}
	return fn(ctx, args)
}

// Tables lists the tables holding at least one row.
func (b *Backend) Tables(ctx context.Context) ([]string, error) {
	rs, err := b.db.QueryContext(ctx, `SELECT DISTINCT tbl FROM records`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []string
	for rs.Next() {
		var t string
		if err := rs.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, rs.Err()
}

// Close stops the poller, disconnects every channel and closes the database.
func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, c := range b.channels {
		c.close(constants.ErrClosed)
		delete(b.channels, id)
	}
	b.mu.Unlock()

	b.cancel()
	<-b.done
	if err := b.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

var _ remote.Collaborator = (*Backend)(nil)
