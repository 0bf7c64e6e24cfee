// Package testenv builds clients over throwaway backends for tests of code
// that sits on top of the core, such as the community services.
//
// The backend kind comes from the WHYFAIL_TEST_BACKEND environment variable
// so one test suite can be run against every adapter:
//
//	WHYFAIL_TEST_BACKEND=sqlite go test ./contrib/...
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/internal/fakeserver"
	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/backend/rpcws"
	"github.com/whyfailclub/whyfail.go/pkg/backend/sqlite"
	"github.com/whyfailclub/whyfail.go/pkg/config"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// EnvBackend selects the backend kind: memory (default), sqlite or ws.
const EnvBackend = "WHYFAIL_TEST_BACKEND"

// Procedure is the signature of procedures registered with Backend.Register.
type Procedure func(ctx context.Context, args map[string]any) (any, error)

// Backend is a started backend together with the hooks tests need on it.
type Backend struct {
	remote.Collaborator

	Kind config.BackendKind
	// Memory is the store behind the memory and ws kinds, nil for sqlite.
	Memory *memory.Backend
	// Server is the WebSocket server of the ws kind.
	Server *fakeserver.Server

	register func(name string, fn Procedure)
}

// Register installs a procedure on whatever store serves the backend.
func (b *Backend) Register(name string, fn Procedure) {
	b.register(name, fn)
}

// Kind returns the backend kind selected by EnvBackend.
func Kind() (config.BackendKind, error) {
	kind := config.BackendKind(strings.TrimSpace(os.Getenv(EnvBackend)))
	switch kind {
	case "":
		return config.BackendMemory, nil
	case config.BackendMemory, config.BackendSQLite, config.BackendWS:
		return kind, nil
	}
	return "", fmt.Errorf("%s: unknown backend %q", EnvBackend, kind)
}

// NewBackend starts a backend of the selected kind. It is closed when the
// test ends unless a client built on it closes it first.
func NewBackend(tb testing.TB) *Backend {
	tb.Helper()

	kind, err := Kind()
	if err != nil {
		tb.Fatal(err)
	}
	log := NewLogger(tb)

	b := &Backend{Kind: kind}
	switch kind {
	case config.BackendSQLite:
		db, err := sqlite.Open(context.Background(), filepath.Join(tb.TempDir(), "whyfail.db"),
			sqlite.WithLogger(log),
			sqlite.WithPollInterval(10*time.Millisecond))
		if err != nil {
			tb.Fatalf("open sqlite backend: %v", err)
		}
		b.Collaborator = db
		b.register = func(name string, fn Procedure) { db.Register(name, sqlite.Procedure(fn)) }

	case config.BackendWS:
		b.Memory = memory.New(memory.WithLogger(log))
		b.Server = fakeserver.New("127.0.0.1:0", b.Memory, fakeserver.WithLogger(log))
		if err := b.Server.Start(); err != nil {
			tb.Fatalf("start server: %v", err)
		}
		tb.Cleanup(func() { _ = b.Server.Stop() })

		client, err := rpcws.New(b.Server.URL(), rpcws.WithLogger(log), rpcws.WithTimeout(5*time.Second))
		if err != nil {
			tb.Fatalf("dial server: %v", err)
		}
		b.Collaborator = client
		b.register = func(name string, fn Procedure) { b.Memory.Register(name, memory.Procedure(fn)) }

	default:
		b.Memory = memory.New(memory.WithLogger(log))
		b.Collaborator = b.Memory
		b.register = func(name string, fn Procedure) { b.Memory.Register(name, memory.Procedure(fn)) }
	}

	tb.Cleanup(func() {
		if err := b.Close(context.Background()); err != nil {
			tb.Logf("close backend: %v", err)
		}
	})
	return b
}

// NewClient returns a client signed in as uid over a fresh backend.
func NewClient(tb testing.TB, uid string, opts ...whyfail.Option) (*whyfail.Client, *Backend) {
	tb.Helper()

	b := NewBackend(tb)
	opts = append([]whyfail.Option{
		whyfail.WithLogger(NewLogger(tb)),
		whyfail.WithIdentity(remote.StaticIdentity(uid)),
	}, opts...)
	c := whyfail.New(b, opts...)
	tb.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			tb.Logf("close client: %v", err)
		}
	})
	return c, b
}

// NewLogger logs warnings and errors through tb.Log, so they show up next
// to the failing test. Set WHYFAIL_LOG_LEVEL=debug for everything.
func NewLogger(tb testing.TB) logger.Logger {
	level := slog.LevelWarn
	if v := os.Getenv(config.EnvLogLevel); v != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			tb.Logf("%s: %v", config.EnvLogLevel, err)
		}
	}
	return logger.New(NewLogHandler(WithWriter(tbWriter{tb}), WithMinLevel(level)))
}

type tbWriter struct{ tb testing.TB }

func (w tbWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
