package community

import (
	"context"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// Analytics returns the member's latest emotional analysis, or nil when none
// has been generated yet.
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return whyfail.QueryOne[Analytics](ctx, s.client, AnalyticsKey(uid),
		remote.From(TableAnalytics).
			Where(remote.Eq("user_id", uid)).
			OrderBy(remote.Desc("created_at")).
			WithLimit(1))
}

// GenerateAnalytics asks the backend to analyse the member's journal.
func (s *Service) GenerateAnalytics(ctx context.Context) (any, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	res, _, err := whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (any, error) {
		return b.Invoke(ctx, ProcAnalyzeEmotions, map[string]any{"user_uuid": uid})
	}, AnalyticsKey(uid))
	return res, err
}
