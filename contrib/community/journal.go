package community

import (
	"context"
	"strings"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

const recentEntries = 5

// NewEntry is what a member writes into the journal form.
type NewEntry struct {
	Title          string
	Content        string
	IsPublic       bool
	BounceBackPlan string
	MoodBefore     *int
	MoodAfter      *int
	Tags           []string
}

func (e NewEntry) validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title is required")
	}
	if strings.TrimSpace(e.Content) == "" {
		return invalid("content is required")
	}
	if err := checkMood("mood before", e.MoodBefore); err != nil {
		return err
	}
	return checkMood("mood after", e.MoodAfter)
}

func checkMood(name string, mood *int) error {
	if mood != nil && (*mood < 1 || *mood > 10) {
		return invalid("%s must be between 1 and 10, got %d", name, *mood)
	}
	return nil
}

// NormalizeTags trims tags and drops blanks and repeats, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func entriesQuery(uid string) remote.SelectQuery {
	return remote.From(TableJournalEntries).
		Where(remote.Eq("user_id", uid)).
		OrderBy(remote.Desc("created_at"))
}

// Entries lists the member's journal, newest first.
func (s *Service) Entries(ctx context.Context) ([]JournalEntry, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return whyfail.Query[JournalEntry](ctx, s.client, EntriesKey(uid), entriesQuery(uid))
}

// RecentEntries is the dashboard's short list of the latest entries.
func (s *Service) RecentEntries(ctx context.Context) ([]JournalEntry, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return whyfail.Query[JournalEntry](ctx, s.client, RecentEntriesKey(uid),
		entriesQuery(uid).WithLimit(recentEntries))
}

// CreateEntry stores a journal entry and sends it to moderation. The entry
// is kept when moderation fails.
func (s *Service) CreateEntry(ctx context.Context, e NewEntry) (JournalEntry, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := e.validate(); err != nil {
		return JournalEntry{}, err
	}

	row := remote.Row{
		"user_id":   uid,
		"title":     strings.TrimSpace(e.Title),
		"content":   strings.TrimSpace(e.Content),
		"is_public": e.IsPublic,
		"tags":      NormalizeTags(e.Tags),
	}
	if plan := strings.TrimSpace(e.BounceBackPlan); plan != "" {
		row["bounce_back_plan"] = plan
	}
	if e.MoodBefore != nil {
		row["mood_before"] = *e.MoodBefore
	}
	if e.MoodAfter != nil {
		row["mood_after"] = *e.MoodAfter
	}

	keys := []models.QueryKey{EntriesKey(uid), RecentEntriesKey(uid), AnalyticsKey(uid)}
	if e.IsPublic {
		keys = append(keys, StoriesRootKey())
	}

	entry, _, err := whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (JournalEntry, error) {
		stored, err := b.Insert(ctx, TableJournalEntries, row)
		if err != nil {
			return JournalEntry{}, err
		}
		entry, err := remote.Decode[JournalEntry](stored)
		if err != nil {
			return JournalEntry{}, err
		}
		s.moderateEntry(ctx, b, entry)
		return entry, nil
	}, keys...)
	return entry, err
}

func (s *Service) moderateEntry(ctx context.Context, b remote.Invoker, e JournalEntry) {
	_, err := b.Invoke(ctx, ProcModerateContent, map[string]any{
		"content_text":       e.Title + " " + e.Content,
		"content_type_param": "journal_entry",
		"content_id_param":   e.ID,
		"user_id_param":      e.UserID,
	})
	if err != nil {
		s.logger.Warn("Moderation of journal entry failed", "entry", e.ID, "error", err)
	}
}

// DeleteEntry removes one of the member's own entries.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	_, _, err = whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (struct{}, error) {
		return struct{}{}, b.Delete(ctx, TableJournalEntries,
			[]remote.Filter{remote.Eq("id", id), remote.Eq("user_id", uid)})
	}, EntriesKey(uid), RecentEntriesKey(uid), AnalyticsKey(uid), StoriesRootKey())
	return err
}

// WatchEntries refreshes the member's journal views on any change to their
// entries, including changes made from other devices. Call the returned
// function to stop.
func (s *Service) WatchEntries(ctx context.Context) (func() error, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	filter := models.EqFilter(TableJournalEntries, "user_id", uid)
	keys := []models.QueryKey{EntriesKey(uid), RecentEntriesKey(uid)}
	if err := s.client.Watch(ctx, filter, keys...); err != nil {
		return nil, err
	}
	return func() error { return s.client.Unwatch(filter, keys...) }, nil
}
