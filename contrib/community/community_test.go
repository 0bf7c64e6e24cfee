package community_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/contrib/community"
	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
	"github.com/whyfailclub/whyfail.go/pkg/store"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	backend *memory.Backend
	client  *whyfail.Client
	svc     *community.Service

	mu        sync.Mutex
	user      string
	moderated []map[string]any
}

// newEnv signs in as u1. The backend clock ticks one second per read of it
// so rows get distinct, increasing timestamps.
func newEnv(t *testing.T, opts ...whyfail.Option) *env {
	t.Helper()

	var ticks atomic.Int64
	clock := func() time.Time {
		return epoch.Add(time.Duration(ticks.Add(1)) * time.Second)
	}

	e := &env{user: "u1"}
	e.backend = memory.New(memory.WithClock(clock), memory.WithLogger(logger.Nop()))
	e.backend.Register(community.ProcModerateContent, func(_ context.Context, args map[string]any) (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.moderated = append(e.moderated, args)
		return "approved", nil
	})
	for name, fn := range community.StandInProcedures(e.backend, clock) {
		if name != community.ProcModerateContent {
			e.backend.Register(name, memory.Procedure(fn))
		}
	}

	identity := remote.IdentityFunc(func(context.Context) (string, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.user, nil
	})
	opts = append([]whyfail.Option{
		whyfail.WithLogger(logger.Nop()),
		whyfail.WithIdentity(identity),
	}, opts...)
	e.client = whyfail.New(e.backend, opts...)
	e.svc = community.New(e.client, community.WithClock(func() time.Time { return epoch }))

	t.Cleanup(func() {
		e.svc.Close()
		require.NoError(t, e.client.Close(context.Background()))
	})
	return e
}

func (e *env) as(uid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.user = uid
}

func mood(n int) *int { return &n }

func TestCreateEntryValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry community.NewEntry
	}{
		{"blank title", community.NewEntry{Title: "  ", Content: "c"}},
		{"blank content", community.NewEntry{Title: "t", Content: "\n"}},
		{"mood too low", community.NewEntry{Title: "t", Content: "c", MoodBefore: mood(0)}},
		{"mood too high", community.NewEntry{Title: "t", Content: "c", MoodAfter: mood(11)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateEntry(ctx, tt.entry)
			assert.ErrorIs(t, err, community.ErrInvalidInput)
		})
	}
	assert.Empty(t, e.backend.Rows(community.TableJournalEntries))
	assert.Zero(t, e.backend.Calls(memory.OpInsert))
}

func TestCreateEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.svc.CreateEntry(ctx, community.NewEntry{
		Title:      " Rejected again ",
		Content:    "Third interview, no offer.",
		MoodBefore: mood(3),
		MoodAfter:  mood(6),
		Tags:       []string{" career ", "career", "", "rejection"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "Rejected again", created.Title)
	assert.Equal(t, []string{"career", "rejection"}, created.Tags)
	require.NotNil(t, created.MoodAfter)
	assert.Equal(t, 6, *created.MoodAfter)

	e.mu.Lock()
	require.Len(t, e.moderated, 1)
	assert.Equal(t, "Rejected again Third interview, no offer.", e.moderated[0]["content_text"])
	assert.Equal(t, "journal_entry", e.moderated[0]["content_type_param"])
	assert.Equal(t, created.ID, e.moderated[0]["content_id_param"])
	assert.Equal(t, "u1", e.moderated[0]["user_id_param"])
	e.mu.Unlock()

	entries, err := e.svc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, created.ID, entries[0].ID)
}

func TestModerationFailureKeepsEntry(t *testing.T) {
	e := newEnv(t)
	e.backend.Register(community.ProcModerateContent, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("moderation service unavailable")
	})

	_, err := e.svc.CreateEntry(context.Background(), community.NewEntry{Title: "t", Content: "c"})
	require.NoError(t, err)
	assert.Len(t, e.backend.Rows(community.TableJournalEntries), 1)
}

func TestRecentEntriesAreNewestFive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, title := range []string{"1", "2", "3", "4", "5", "6"} {
		_, err := e.svc.CreateEntry(ctx, community.NewEntry{Title: title, Content: "c"})
		require.NoError(t, err)
	}

	recent, err := e.svc.RecentEntries(ctx)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "6", recent[0].Title)
	assert.Equal(t, "2", recent[4].Title)

	all, err := e.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestWritesEndFreshnessOfCachedReads(t *testing.T) {
	e := newEnv(t, whyfail.WithStaleTime(time.Hour))
	ctx := context.Background()

	entries, err := e.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	created, err := e.svc.CreateEntry(ctx, community.NewEntry{Title: "t", Content: "c"})
	require.NoError(t, err)

	entries, err = e.svc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, e.svc.DeleteEntry(ctx, created.ID))
	entries, err = e.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteEntryIsOwnerScoped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.svc.CreateEntry(ctx, community.NewEntry{Title: "t", Content: "c"})
	require.NoError(t, err)

	e.as("u2")
	require.NoError(t, e.svc.DeleteEntry(ctx, created.ID))
	assert.Len(t, e.backend.Rows(community.TableJournalEntries), 1)
}

func TestWatchEntriesRefreshesObservedJournal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var mu sync.Mutex
	var sizes []int
	sub, err := whyfail.Observe(ctx, e.client, community.EntriesKey("u1"),
		remote.From(community.TableJournalEntries).Where(remote.Eq("user_id", "u1")),
		func(rows []community.JournalEntry, _ store.Entry) {
			mu.Lock()
			defer mu.Unlock()
			sizes = append(sizes, len(rows))
		})
	require.NoError(t, err)
	defer sub.Close()

	stop, err := e.svc.WatchEntries(ctx)
	require.NoError(t, err)
	defer func() { assert.NoError(t, stop()) }()

	// Written by another device, not through the service.
	_, err = e.backend.Insert(ctx, community.TableJournalEntries, remote.Row{"user_id": "u1", "title": "from phone"})
	require.NoError(t, err)
	_, err = e.backend.Insert(ctx, community.TableJournalEntries, remote.Row{"user_id": "u2", "title": "not mine"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e.client.Wait()
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) > 0 && sizes[len(sizes)-1] == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSignedOut(t *testing.T) {
	e := newEnv(t)
	e.as("")
	ctx := context.Background()

	_, err := e.svc.Entries(ctx)
	assert.ErrorIs(t, err, whyfail.ErrNotAuthenticated)
	_, err = e.svc.CreateEntry(ctx, community.NewEntry{Title: "t", Content: "c"})
	assert.ErrorIs(t, err, whyfail.ErrNotAuthenticated)
	_, err = e.svc.Profile(ctx)
	assert.ErrorIs(t, err, whyfail.ErrNotAuthenticated)
	_, err = e.svc.RequestSupport(ctx, community.SOSRequest{IncidentType: "crisis"})
	assert.ErrorIs(t, err, whyfail.ErrNotAuthenticated)
	assert.Zero(t, e.backend.Calls(memory.OpInsert))
}

func TestProfileAndAnonymousMode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.svc.Profile(ctx)
	require.NoError(t, err)
	assert.Nil(t, p, "no profile yet is not an error")

	first, last := "Ada", "Lovelace"
	require.NoError(t, e.backend.Seed(community.TableProfiles, remote.Row{
		"id": "u1", "first_name": first, "last_name": last, "is_anonymous_mode": false,
	}))

	p, err = e.svc.Profile(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Ada Lovelace", p.DisplayName())

	require.NoError(t, e.svc.SetAnonymousMode(ctx, true))
	p, err = e.svc.Profile(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsAnonymousMode)
	assert.Equal(t, "Anonymous", p.DisplayName())
}
