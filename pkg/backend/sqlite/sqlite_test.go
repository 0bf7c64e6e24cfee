package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/whyfailclub/whyfail.go/internal/backendtest"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

func open(t *testing.T, path string, opts ...Option) *Backend {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop()), WithPollInterval(5 * time.Millisecond)}, opts...)
	b, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestContract(t *testing.T) {
	dir := t.TempDir()
	n := 0
	suite.Run(t, &backendtest.ContractSuite{
		New: func() (remote.Collaborator, func(string, backendtest.ProcedureFunc)) {
			n++
			b, err := Open(context.Background(), filepath.Join(dir, "contract", string(rune('a'+n))+".db"),
				WithLogger(logger.Nop()), WithPollInterval(5*time.Millisecond))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			return b, func(name string, fn backendtest.ProcedureFunc) { b.Register(name, Procedure(fn)) }
		},
	})
}

func TestInMemory(t *testing.T) {
	b := open(t, ":memory:")
	ctx := context.Background()

	_, err := b.Insert(ctx, "profiles", remote.Row{"id": "u1", "first_name": "Ada"})
	require.NoError(t, err)

	rows, err := b.Select(ctx, remote.From("profiles").Where(remote.Eq("id", "u1")).One())
	require.NoError(t, err)
	assert.Equal(t, "Ada", rows[0]["first_name"])

	tables, err := b.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"profiles"}, tables)
}

func TestRowsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whyfail.db")
	ctx := context.Background()

	b, err := Open(ctx, path, WithLogger(logger.Nop()))
	require.NoError(t, err)
	_, err = b.Insert(ctx, "journal_entries", remote.Row{"id": "e1", "user_id": "u1", "mood_after": 7})
	require.NoError(t, err)
	require.NoError(t, b.Close(ctx))

	b = open(t, path)
	rows, err := b.Select(ctx, remote.From("journal_entries"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 7, rows[0]["mood_after"])
}

// A second backend on the same file sees the first one's writes as live
// events, the way two processes would.
func TestChangesFromAnotherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	writer := open(t, path)
	reader := open(t, path)

	ch, err := reader.Subscribe(ctx, models.EqFilter("stories", "is_public", true))
	require.NoError(t, err)

	_, err = writer.Insert(ctx, "stories", remote.Row{"id": "s1", "is_public": true})
	require.NoError(t, err)

	select {
	case ev := <-ch.Events():
		assert.Equal(t, remote.InsertAction, ev.Action)
		assert.Equal(t, "s1", ev.Record.String("id"))
	case <-time.After(2 * time.Second):
		t.Fatal("no event from the other handle")
	}
}

func TestSubscriptionSkipsEarlierChanges(t *testing.T) {
	b := open(t, filepath.Join(t.TempDir(), "since.db"), WithPollInterval(time.Hour))
	ctx := context.Background()

	_, err := b.Insert(ctx, "profiles", remote.Row{"id": "u1"})
	require.NoError(t, err)
	ch, err := b.Subscribe(ctx, models.TableFilter("profiles"))
	require.NoError(t, err)
	_, err = b.Insert(ctx, "profiles", remote.Row{"id": "u2"})
	require.NoError(t, err)

	require.NoError(t, b.tail(ctx))
	ev := <-ch.Events()
	assert.Equal(t, "u2", ev.Record.String("id"))
	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestChangeLogIsPruned(t *testing.T) {
	b := open(t, filepath.Join(t.TempDir(), "prune.db"), WithPollInterval(time.Hour), WithChangeRetention(2))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := b.Insert(ctx, "profiles", remote.Row{"id": id})
		require.NoError(t, err)
	}
	require.NoError(t, b.tail(ctx))

	var n int
	require.NoError(t, b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestClosedBackendRejectsCalls(t *testing.T) {
	b, err := Open(context.Background(), ":memory:", WithLogger(logger.Nop()))
	require.NoError(t, err)
	ch, err := b.Subscribe(context.Background(), models.TableFilter("profiles"))
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))
	_, ok := <-ch.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, ch.Err(), constants.ErrClosed)

	_, err = b.Select(context.Background(), remote.From("profiles"))
	assert.ErrorIs(t, err, constants.ErrClosed)
	_, err = b.Insert(context.Background(), "profiles", remote.Row{})
	assert.ErrorIs(t, err, constants.ErrClosed)
	assert.NoError(t, b.Close(context.Background()))
}
