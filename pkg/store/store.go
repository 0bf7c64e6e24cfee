// Package store holds the process-lifetime cache of remote read results.
//
// A Store is created once per Client and torn down with it. It performs no
// I/O: the query runner decides when to fetch and records the outcome here.
package store

import (
	"sync"
	"time"

	"github.com/whyfailclub/whyfail.go/pkg/models"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one cache slot. Values returned by the Store are copies; mutating
// them does not change the cache.
type Entry struct {
	Key             models.QueryKey
	Data            any
	HasData         bool
	Status          Status
	Err             error
	LastFetchedAt   time.Time
	SubscriberCount int
	// Invalidated is set when the key was published on the invalidation
	// bus after its last successful fetch.
	Invalidated bool
	// Generation counts invalidations. A fetch records it when it starts
	// and passes it back to Settle.
	Generation uint64
}

// Fresh reports whether the entry settled successfully within staleTime of now.
func (e Entry) Fresh(now time.Time, staleTime time.Duration) bool {
	if e.Status != StatusSuccess || e.Invalidated || e.LastFetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.LastFetchedAt) < staleTime
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for LastFetchedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns a snapshot of the entry for key without triggering any I/O.
func (s *Store) Get(key models.QueryKey) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// entry returns the slot for key, creating an idle one. Callers hold mu.
func (s *Store) entry(key models.QueryKey) *Entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &Entry{Key: append(models.QueryKey(nil), key...), Status: StatusIdle}
		s.entries[id] = e
	}
	return e
}

// Put replaces the data of key and sets its status. A successful put clears
// the previous error and stamps LastFetchedAt.
func (s *Store) Put(key models.QueryKey, data any, status Status) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	e.Data = data
	e.HasData = true
	e.Status = status
	if status == StatusSuccess {
		e.Err = nil
		e.LastFetchedAt = s.now()
		e.Invalidated = false
	}
	return *e
}

// Settle records a successful fetch that started at generation. The entry
// stays invalidated when the key was published after that fetch began, so
// the next read fetches again.
func (s *Store) Settle(key models.QueryKey, data any, generation uint64) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	e.Data = data
	e.HasData = true
	e.Status = StatusSuccess
	e.Err = nil
	e.LastFetchedAt = s.now()
	e.Invalidated = e.Generation != generation
	return *e
}

// MarkInvalidated flags a cached key as no longer fresh. It reports false
// when the key is not cached.
func (s *Store) MarkInvalidated(key models.QueryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return false
	}
	e.Invalidated = true
	e.Generation++
	return true
}

// MarkLoading moves key to loading, keeping any cached data visible.
func (s *Store) MarkLoading(key models.QueryKey) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	e.Status = StatusLoading
	return *e
}

// MarkError records a failed fetch. Cached data is kept.
func (s *Store) MarkError(key models.QueryKey, err error) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	e.Status = StatusError
	e.Err = err
	return *e
}

// Evict removes the entry for key. It reports false when the key is absent
// or still has subscribers.
func (s *Store) Evict(key models.QueryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()
	e, ok := s.entries[id]
	if !ok || e.SubscriberCount > 0 {
		return false
	}
	delete(s.entries, id)
	return true
}

// AddSubscriber increments the subscriber count of key and returns the new count.
func (s *Store) AddSubscriber(key models.QueryKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	e.SubscriberCount++
	return e.SubscriberCount
}

// Release decrements the subscriber count of key and returns the new count.
func (s *Store) Release(key models.QueryKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return 0
	}
	if e.SubscriberCount > 0 {
		e.SubscriberCount--
	}
	return e.SubscriberCount
}

// Prune evicts unsubscribed entries whose last fetch is older than
// olderThan, including entries that never settled. It returns the number removed.
func (s *Store) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	n := 0
	for id, e := range s.entries {
		if e.SubscriberCount > 0 || e.Status == StatusLoading {
			continue
		}
		if e.LastFetchedAt.IsZero() || e.LastFetchedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *Store) Keys() []models.QueryKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]models.QueryKey, 0, len(s.entries))
	for _, e := range s.entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset drops every entry.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
}
