package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/whyfailclub/whyfail.go/internal/backendtest"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

func TestContract(t *testing.T) {
	suite.Run(t, &backendtest.ContractSuite{
		New: func() (remote.Collaborator, func(string, backendtest.ProcedureFunc)) {
			b := New(WithLogger(logger.Nop()))
			return b, func(name string, fn backendtest.ProcedureFunc) { b.Register(name, Procedure(fn)) }
		},
	})
}

func TestFailNext(t *testing.T) {
	b := New(WithLogger(logger.Nop()))
	ctx := context.Background()
	boom := errors.New("permission denied")

	b.FailNext(OpInsert, boom)
	_, err := b.Insert(ctx, "journal_entries", remote.Row{"title": "x"})
	var we *remote.WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.Rows("journal_entries"))

	_, err = b.Insert(ctx, "journal_entries", remote.Row{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Calls(OpInsert))

	b.FailNext(OpSelect, boom)
	_, err = b.Select(ctx, remote.From("journal_entries"))
	var re *remote.ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "journal_entries", re.Table)
}

func TestGeneratedColumnsUseClockAndIDs(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	n := 0
	b := New(
		WithLogger(logger.Nop()),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { n++; return "id-" + string(rune('0'+n)) }),
	)

	require.NoError(t, b.Seed("profiles", remote.Row{"first_name": "Ada"}))
	rows := b.Rows("profiles")
	require.Len(t, rows, 1)
	assert.Equal(t, "id-1", rows[0]["id"])
	assert.Equal(t, "2025-03-04T05:06:07.000000Z", rows[0]["created_at"])
	assert.Equal(t, []string{"profiles"}, b.Tables())
}

func TestSeedDoesNotEmit(t *testing.T) {
	b := New(WithLogger(logger.Nop()))
	ch, err := b.Subscribe(context.Background(), Filter("profiles", ""))
	require.NoError(t, err)

	require.NoError(t, b.Seed("profiles", remote.Row{"id": "u1"}))
	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestDisconnect(t *testing.T) {
	b := New(WithLogger(logger.Nop()))
	ch, err := b.Subscribe(context.Background(), Filter("journal_entries", "user_id=eq.u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Channels())

	assert.Equal(t, 1, b.Disconnect())
	_, ok := <-ch.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, ch.Err(), ErrDisconnected)
	assert.Equal(t, 0, b.Channels())

	// Unsubscribing a dropped channel is harmless.
	assert.NoError(t, b.Unsubscribe(context.Background(), ch))
}

func TestSlowChannelIsDropped(t *testing.T) {
	b := New(WithLogger(logger.Nop()), WithEventBuffer(1))
	ch, err := b.Subscribe(context.Background(), Filter("journal_entries", ""))
	require.NoError(t, err)

	b.Emit(remote.Event{Table: "journal_entries", Action: remote.InsertAction, Record: remote.Row{"id": "e1"}})
	b.Emit(remote.Event{Table: "journal_entries", Action: remote.InsertAction, Record: remote.Row{"id": "e2"}})

	ev, ok := <-ch.Events()
	require.True(t, ok)
	assert.Equal(t, "e1", ev.Record.String("id"))
	_, ok = <-ch.Events()
	assert.False(t, ok)
	assert.Error(t, ch.Err())
}

func TestClosedBackendRejectsCalls(t *testing.T) {
	b := New(WithLogger(logger.Nop()))
	ch, err := b.Subscribe(context.Background(), Filter("profiles", ""))
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))
	_, ok := <-ch.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, ch.Err(), constants.ErrClosed)

	_, err = b.Select(context.Background(), remote.From("profiles"))
	assert.ErrorIs(t, err, constants.ErrClosed)
	_, err = b.Invoke(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, constants.ErrClosed)
}

func TestUnfilteredWritesAreRefused(t *testing.T) {
	b := New(WithLogger(logger.Nop()))
	err := b.Delete(context.Background(), "journal_entries", nil)
	assert.ErrorIs(t, err, constants.ErrInvalidQuery)
}
