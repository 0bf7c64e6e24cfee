package community

import (
	"context"
	"fmt"
	"strings"

	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

type StorySort string

const (
	SortNewest       StorySort = "newest"
	SortOldest       StorySort = "oldest"
	SortMostEngaging StorySort = "most_engaging"
)

// AllTags is the tag value that disables tag filtering.
const AllTags = "all"

// StoryQuery selects a view of the public stories.
type StoryQuery struct {
	Sort   StorySort
	Tag    string
	Search string
}

func (q StoryQuery) normalize() StoryQuery {
	if q.Sort == "" {
		q.Sort = SortNewest
	}
	q.Tag = strings.TrimSpace(q.Tag)
	if q.Tag == "" {
		q.Tag = AllTags
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

func (q StoryQuery) selectQuery() (remote.SelectQuery, error) {
	sel := remote.From(TableJournalEntries).Where(remote.Eq("is_public", true))
	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		sel = sel.WhereAny(remote.ILike("title", pattern), remote.ILike("content", pattern))
	}
	if q.Tag != AllTags {
		sel = sel.Where(remote.Contains("tags", []any{q.Tag}))
	}
	switch q.Sort {
	case SortOldest:
		sel = sel.OrderBy(remote.Asc("created_at"))
	case SortNewest, SortMostEngaging:
		// Engagement is not tracked, so the most engaging view is the newest.
		sel = sel.OrderBy(remote.Desc("created_at"))
	default:
		return sel, invalid("unknown story sort %q", q.Sort)
	}
	return sel, nil
}

// Stories lists public journal entries with their authors' display names.
func (s *Service) Stories(ctx context.Context, q StoryQuery) ([]Story, error) {
	q = q.normalize()
	sel, err := q.selectQuery()
	if err != nil {
		return nil, err
	}

	key := StoriesKey(q)
	s.trackStoryKey(key)

	entry, err := s.client.Queries().Ensure(ctx, key, func(ctx context.Context) (any, error) {
		return s.fetchStories(ctx, sel)
	})
	// A publish before the fetch began may have dropped the key.
	s.trackStoryKey(key)
	if err != nil {
		return nil, err
	}
	stories, ok := entry.Data.([]Story)
	if !ok && entry.Data != nil {
		return nil, fmt.Errorf("entry %s holds %T, not stories", key, entry.Data)
	}
	return stories, nil
}

func (s *Service) fetchStories(ctx context.Context, sel remote.SelectQuery) ([]Story, error) {
	b := s.client.Backend()
	rows, err := b.Select(ctx, sel)
	if err != nil {
		return nil, err
	}
	entries, err := remote.DecodeRows[JournalEntry](rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Story{}, nil
	}

	var authorIDs []any
	seen := make(map[string]struct{})
	for _, e := range entries {
		if _, ok := seen[e.UserID]; !ok {
			seen[e.UserID] = struct{}{}
			authorIDs = append(authorIDs, e.UserID)
		}
	}
	profileRows, err := b.Select(ctx, remote.From(TableProfiles).Where(remote.In("id", authorIDs)))
	if err != nil {
		return nil, err
	}
	profiles := make(map[string]*Profile, len(profileRows))
	for _, r := range profileRows {
		p, err := remote.Decode[Profile](r)
		if err != nil {
			return nil, err
		}
		profiles[p.ID] = &p
	}

	stories := make([]Story, len(entries))
	for i, e := range entries {
		stories[i] = Story{JournalEntry: e, Author: profiles[e.UserID].DisplayName()}
	}
	return stories, nil
}

// Tags returns the distinct tags of stories in first-seen order.
func Tags(stories []Story) []string {
	var all []string
	for _, st := range stories {
		all = append(all, st.Tags...)
	}
	return NormalizeTags(all)
}

func (s *Service) trackStoryKey(key models.QueryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storyKeys[key.String()] = key
}

// invalidateStories publishes every story view still in the cache and
// forgets the ones that were evicted.
func (s *Service) invalidateStories(models.QueryKey) error {
	cache := s.client.Store()
	s.mu.Lock()
	keys := make([]models.QueryKey, 0, len(s.storyKeys))
	for id, k := range s.storyKeys {
		if _, ok := cache.Get(k); !ok {
			delete(s.storyKeys, id)
			continue
		}
		keys = append(keys, k)
	}
	s.mu.Unlock()

	s.client.Bus().PublishMany(keys)
	return nil
}

// WatchStories refreshes every story view on any change to a public entry.
func (s *Service) WatchStories(ctx context.Context) (func() error, error) {
	filter := models.EqFilter(TableJournalEntries, "is_public", true)
	if err := s.client.Watch(ctx, filter, StoriesRootKey()); err != nil {
		return nil, err
	}
	return func() error { return s.client.Unwatch(filter, StoriesRootKey()) }, nil
}
