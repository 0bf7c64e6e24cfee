package community

import (
	"context"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// Profile returns the signed-in member's profile, or nil if none exists yet.
func (s *Service) Profile(ctx context.Context) (*Profile, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return whyfail.QueryOne[Profile](ctx, s.client, ProfileKey(uid),
		remote.From(TableProfiles).Where(remote.Eq("id", uid)))
}

// SetAnonymousMode hides or reveals the member's name on their public stories.
func (s *Service) SetAnonymousMode(ctx context.Context, on bool) error {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	_, _, err = whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (struct{}, error) {
		return struct{}{}, b.Update(ctx, TableProfiles,
			[]remote.Filter{remote.Eq("id", uid)},
			remote.Row{"is_anonymous_mode": on})
	}, ProfileKey(uid), StoriesRootKey())
	return err
}
