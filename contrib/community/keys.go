package community

import "github.com/whyfailclub/whyfail.go/pkg/models"

func ProfileKey(uid string) models.QueryKey {
	return models.NewQueryKey("profile", uid)
}

func EntriesKey(uid string) models.QueryKey {
	return models.NewQueryKey("journal-entries", uid)
}

func RecentEntriesKey(uid string) models.QueryKey {
	return models.NewQueryKey("recent-journal-entries", uid)
}

// StoriesKey is the key of one filtered view of the public stories.
func StoriesKey(q StoryQuery) models.QueryKey {
	q = q.normalize()
	return models.NewQueryKey("public-stories", string(q.Sort), q.Tag, q.Search)
}

// StoriesRootKey is published whenever any public story may have changed.
// It fans out to every StoriesKey the service has read.
func StoriesRootKey() models.QueryKey {
	return models.NewQueryKey("public-stories")
}

func AnalyticsKey(uid string) models.QueryKey {
	return models.NewQueryKey("emotional-analytics", uid)
}

func SessionsKey() models.QueryKey {
	return models.NewQueryKey("mentalk-sessions")
}

func UpcomingSessionKey() models.QueryKey {
	return models.NewQueryKey("upcoming-mentalk")
}

func ParticipationsKey(uid string) models.QueryKey {
	return models.NewQueryKey("my-mentalk-participations", uid)
}
