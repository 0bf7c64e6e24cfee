package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whyfailclub/whyfail.go/pkg/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGetAbsent(t *testing.T) {
	s := New()
	_, ok := s.Get(models.NewQueryKey("profile", "u1"))
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestOneEntryPerKey(t *testing.T) {
	s := New()
	s.Put(models.NewQueryKey("journal-entries", "u1"), []string{"e1"}, StatusSuccess)
	s.MarkLoading(models.NewQueryKey("journal-entries", "u1"))
	s.Put(models.NewQueryKey("journal-entries", "u2"), nil, StatusSuccess)

	assert.Equal(t, 2, s.Len())
}

func TestStaleWhileRevalidate(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))
	key := models.NewQueryKey("journal-entries", "u1")

	s.Put(key, []string{"e1"}, StatusSuccess)
	fetched := clock.Now()
	clock.Advance(time.Minute)

	e := s.MarkLoading(key)
	assert.Equal(t, StatusLoading, e.Status)
	assert.Equal(t, []string{"e1"}, e.Data)

	e = s.MarkError(key, errors.New("network down"))
	assert.Equal(t, StatusError, e.Status)
	assert.EqualError(t, e.Err, "network down")
	assert.Equal(t, []string{"e1"}, e.Data)
	assert.Equal(t, fetched, e.LastFetchedAt)

	e = s.Put(key, []string{"e1", "e2"}, StatusSuccess)
	assert.NoError(t, e.Err)
	assert.Equal(t, clock.Now(), e.LastFetchedAt)
}

func TestFresh(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))
	key := models.NewQueryKey("profile", "u1")

	e := s.Put(key, nil, StatusSuccess)
	assert.True(t, e.HasData)
	assert.False(t, e.Fresh(clock.Now(), 0))
	assert.True(t, e.Fresh(clock.Now(), time.Second))

	clock.Advance(2 * time.Second)
	assert.False(t, e.Fresh(clock.Now(), time.Second))

	e = s.MarkError(key, errors.New("boom"))
	assert.False(t, e.Fresh(clock.Now(), time.Hour))
}

func TestEvictRespectsSubscribers(t *testing.T) {
	s := New()
	key := models.NewQueryKey("mentalk-sessions")

	assert.Equal(t, 1, s.AddSubscriber(key))
	assert.Equal(t, 2, s.AddSubscriber(key))
	assert.False(t, s.Evict(key))

	assert.Equal(t, 1, s.Release(key))
	assert.Equal(t, 0, s.Release(key))
	assert.Equal(t, 0, s.Release(key))

	assert.True(t, s.Evict(key))
	assert.False(t, s.Evict(key))
}

func TestPrune(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))

	old := models.NewQueryKey("public-stories", "newest", "", "")
	watched := models.NewQueryKey("journal-entries", "u1")
	s.Put(old, nil, StatusSuccess)
	s.Put(watched, nil, StatusSuccess)
	s.AddSubscriber(watched)

	clock.Advance(10 * time.Minute)
	fresh := models.NewQueryKey("profile", "u1")
	s.Put(fresh, nil, StatusSuccess)

	assert.Equal(t, 1, s.Prune(5*time.Minute))
	_, ok := s.Get(old)
	assert.False(t, ok)
	require.Equal(t, 2, s.Len())
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := New()
	key := models.NewQueryKey("profile", "u1")
	e := s.Put(key, "v", StatusSuccess)
	e.Status = StatusError

	got, ok := s.Get(models.NewQueryKey("profile", "u1"))
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, got.Status)
}

func TestMarkInvalidated(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))
	key := models.NewQueryKey("journal-entries", "u1")

	assert.False(t, s.MarkInvalidated(key))

	s.Put(key, []string{"e1"}, StatusSuccess)
	require.True(t, s.MarkInvalidated(key))
	e, _ := s.Get(key)
	assert.False(t, e.Fresh(clock.Now(), time.Hour))
	assert.Equal(t, []string{"e1"}, e.Data)

	e = s.Put(key, []string{"e1", "e2"}, StatusSuccess)
	assert.False(t, e.Invalidated)
	assert.True(t, e.Fresh(clock.Now(), time.Hour))
}

func TestSettleKeepsInvalidationFromDuringFetch(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))
	key := models.NewQueryKey("journal-entries", "u1")

	gen := s.MarkLoading(key).Generation
	require.True(t, s.MarkInvalidated(key))

	e := s.Settle(key, []string{"e1"}, gen)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, []string{"e1"}, e.Data)
	assert.True(t, e.Invalidated)
	assert.False(t, e.Fresh(clock.Now(), time.Hour))

	gen = s.MarkLoading(key).Generation
	e = s.Settle(key, []string{"e1", "e2"}, gen)
	assert.False(t, e.Invalidated)
	assert.True(t, e.Fresh(clock.Now(), time.Hour))
}
