package testenv

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ExampleNewLogHandler() {
	log := slog.New(NewLogHandler())

	log.Info("Live channel opened", "filter", "journal_entries:user_id=eq.u1")
	log.Warn("Fetch failed", slog.String("key", `["profile","u1"]`))
	log.Error("Invalidation callback failed", slog.Int("subscription", 3))

	// Output:
	// [0] INFO: Live channel opened filter=journal_entries:user_id=eq.u1
	// [1] WARN: Fetch failed key=["profile","u1"]
	// [2] ERROR: Invalidation callback failed subscription=3
}

func ExampleNewLogHandler_withAttrsAndGroups() {
	log := slog.New(NewLogHandler())

	log.With("user", "u1").
		WithGroup("mutation").
		With("keys", 3).
		Info("settled", slog.Duration("took", 12*time.Millisecond))
	log.WithGroup("live").WithGroup("retry").Info("scheduled",
		slog.Group("backoff", slog.Int("attempt", 2), slog.Duration("delay", 200*time.Millisecond)))
	log.WithGroup("").Info("plain", "k", "v")

	// Output:
	// [0] INFO: settled user=u1, mutation.keys=3, mutation.took=12ms
	// [1] INFO: scheduled live.retry.backoff.attempt=2, live.retry.backoff.delay=200ms
	// [2] INFO: plain k=v
}

func ExampleWithIgnorePrefixes() {
	log := slog.New(NewLogHandler(
		WithIgnorePrefixes("Moderation of journal entry failed"),
		WithMinLevel(slog.LevelInfo),
	))

	log.Debug("Fetch started")
	log.Warn("Moderation of journal entry failed", "entry", "e1")
	log.Warn("Fetch failed", "key", "k")

	// Output:
	// [0] WARN: Fetch failed key=k
}

func TestDerivedHandlersShareTheIndex(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLogHandler(WithWriter(&buf)))
	child := log.With("component", "bridge")

	log.Info("one")
	child.Info("two")
	log.Info("three")

	assert.Equal(t, "[0] INFO: one\n[1] INFO: two component=bridge\n[2] INFO: three\n", buf.String())
}

func TestConcurrentRecordsAreNotInterleaved(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLogHandler(WithWriter(&buf)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("refetch", "n", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, bytes.Count(buf.Bytes(), []byte("INFO: refetch n=1\n")))
}
