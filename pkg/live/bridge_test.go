package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/invalidation"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	mine        = models.EqFilter("journal_entries", "user_id", "u1")
	entriesKey  = models.NewQueryKey("journal-entries", "u1")
	recentKey   = models.NewQueryKey("recent-journal-entries", "u1")
	analyticKey = models.NewQueryKey("emotional-analytics", "u1")
)

type fixture struct {
	backend *memory.Backend
	bus     *invalidation.Bus
	bridge  *Bridge
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend := memory.New(memory.WithLogger(logger.Nop()))
	bus := invalidation.NewBus(invalidation.WithLogger(logger.Nop()))
	opts = append([]Option{
		WithLogger(logger.Nop()),
		WithRetryer(func() Retryer { return NewFixedDelayRetryer(5*time.Millisecond, 0) }),
	}, opts...)
	bridge := NewBridge(backend, bus, opts...)
	t.Cleanup(func() {
		require.NoError(t, bridge.Close())
		require.NoError(t, backend.Close(context.Background()))
	})
	return &fixture{backend: backend, bus: bus, bridge: bridge}
}

func (f *fixture) count(key models.QueryKey) *atomic.Int32 {
	var n atomic.Int32
	f.bus.Subscribe(key, func(models.QueryKey) error { n.Add(1); return nil })
	return &n
}

func (f *fixture) insert(t *testing.T, row remote.Row) {
	t.Helper()
	_, err := f.backend.Insert(context.Background(), "journal_entries", row)
	require.NoError(t, err)
}

func TestWatchPublishesOnMatchingEvents(t *testing.T) {
	f := newFixture(t)
	entries := f.count(entriesKey)
	recent := f.count(recentKey)

	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey, recentKey))

	f.insert(t, remote.Row{"user_id": "u2", "title": "not mine"})
	f.insert(t, remote.Row{"user_id": "u1", "title": "mine"})

	require.Eventually(t, func() bool { return entries.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), recent.Load())

	st, ok := f.bridge.Status(mine)
	require.True(t, ok)
	assert.Equal(t, StateLive, st.State)
	assert.Equal(t, uint64(1), st.Events)
	assert.Equal(t, 1, st.Watchers)
}

func TestOneChannelPerFilter(t *testing.T) {
	f := newFixture(t)
	analytics := f.count(analyticKey)

	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	require.NoError(t, f.bridge.Watch(context.Background(), models.EqFilter("journal_entries", "user_id", "u1"), analyticKey, entriesKey))
	assert.Equal(t, 1, f.backend.Channels())

	st, _ := f.bridge.Status(mine)
	assert.Equal(t, 2, st.Watchers)
	assert.Equal(t, []models.QueryKey{entriesKey, analyticKey}, st.Keys)

	f.insert(t, remote.Row{"user_id": "u1"})
	require.Eventually(t, func() bool { return analytics.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.bridge.Unwatch(mine))
	assert.Equal(t, 1, f.backend.Channels())
	require.NoError(t, f.bridge.Unwatch(mine))
	assert.Equal(t, 0, f.backend.Channels())

	_, ok := f.bridge.Status(mine)
	assert.False(t, ok)
	assert.ErrorIs(t, f.bridge.Unwatch(mine), constants.ErrNotWatched)
}

func TestUnwatchDropsKeysOfThatWatch(t *testing.T) {
	f := newFixture(t)
	entries := f.count(entriesKey)
	analytics := f.count(analyticKey)

	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	require.NoError(t, f.bridge.Watch(context.Background(), mine, analyticKey, entriesKey))
	require.NoError(t, f.bridge.Unwatch(mine, analyticKey, entriesKey))

	st, ok := f.bridge.Status(mine)
	require.True(t, ok)
	assert.Equal(t, 1, st.Watchers)
	assert.Equal(t, []models.QueryKey{entriesKey}, st.Keys)

	f.insert(t, remote.Row{"user_id": "u1"})
	require.Eventually(t, func() bool { return entries.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), analytics.Load())

	require.NoError(t, f.bridge.Unwatch(mine, entriesKey))
	assert.Equal(t, 0, f.backend.Channels())
}

func TestNoPublishAfterUnwatch(t *testing.T) {
	f := newFixture(t)
	entries := f.count(entriesKey)

	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	require.NoError(t, f.bridge.Unwatch(mine))

	f.insert(t, remote.Row{"user_id": "u1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), entries.Load())
}

func TestReconnectPublishesOnce(t *testing.T) {
	f := newFixture(t)
	entries := f.count(entriesKey)

	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	f.backend.FailNext(memory.OpSubscribe, errors.New("connection refused"))
	assert.Equal(t, 1, f.backend.Disconnect())

	require.Eventually(t, func() bool {
		st, _ := f.bridge.Status(mine)
		return st.State == StateLive && f.backend.Channels() == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return entries.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, f.backend.Calls(memory.OpSubscribe))

	// Events flow on the new channel.
	f.insert(t, remote.Row{"user_id": "u1"})
	require.Eventually(t, func() bool { return entries.Load() == 2 }, time.Second, time.Millisecond)
}

func TestReconnectGivesUp(t *testing.T) {
	var failed atomic.Value
	f := newFixture(t,
		WithRetryer(func() Retryer { return NewFixedDelayRetryer(time.Millisecond, 2) }),
		WithFailureHook(func(filter models.RealtimeFilter, err error) {
			failed.Store(filter.String() + ": " + err.Error())
		}),
	)
	entries := f.count(entriesKey)

	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	refused := errors.New("connection refused")
	f.backend.FailNext(memory.OpSubscribe, refused)
	f.backend.FailNext(memory.OpSubscribe, refused)
	f.backend.Disconnect()

	require.Eventually(t, func() bool {
		st, _ := f.bridge.Status(mine)
		return st.State == StateFailed
	}, time.Second, time.Millisecond)

	st, _ := f.bridge.Status(mine)
	assert.ErrorIs(t, st.LastErr, refused)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, "journal_entries:user_id=eq.u1: connection refused", failed.Load())
	assert.Equal(t, int32(0), entries.Load())

	// The failed watch stays registered until it is unwatched.
	require.NoError(t, f.bridge.Unwatch(mine))
}

func TestNoRetryFailsImmediately(t *testing.T) {
	f := newFixture(t, WithRetryer(func() Retryer { return NoRetry{} }))
	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	f.backend.Disconnect()

	require.Eventually(t, func() bool {
		st, _ := f.bridge.Status(mine)
		return st.State == StateFailed
	}, time.Second, time.Millisecond)
	st, _ := f.bridge.Status(mine)
	assert.ErrorIs(t, st.LastErr, memory.ErrDisconnected)
}

func TestUnwatchDuringBackoff(t *testing.T) {
	f := newFixture(t, WithRetryer(func() Retryer { return NewFixedDelayRetryer(time.Hour, 0) }))
	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	f.backend.Disconnect()

	require.Eventually(t, func() bool {
		st, _ := f.bridge.Status(mine)
		return st.State == StateReconnecting
	}, time.Second, time.Millisecond)
	require.NoError(t, f.bridge.Unwatch(mine))
}

func TestWatchFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(memory.OpSubscribe, errors.New("realtime disabled"))

	err := f.bridge.Watch(context.Background(), mine, entriesKey)
	assert.ErrorContains(t, err, "realtime disabled")
	_, ok := f.bridge.Status(mine)
	assert.False(t, ok)

	assert.ErrorIs(t, f.bridge.Watch(context.Background(), models.RealtimeFilter{}), constants.ErrInvalidQuery)
	assert.ErrorIs(t, f.bridge.Watch(context.Background(), mine, models.NewQueryKey()), constants.ErrInvalidQuery)
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bridge.Watch(context.Background(), mine, entriesKey))
	require.NoError(t, f.bridge.Watch(context.Background(), models.EqFilter("journal_entries", "is_public", true), entriesKey))
	assert.Len(t, f.bridge.Statuses(), 2)

	require.NoError(t, f.bridge.Close())
	assert.Equal(t, 0, f.backend.Channels())
	assert.ErrorIs(t, f.bridge.Watch(context.Background(), mine), constants.ErrClosed)
}
