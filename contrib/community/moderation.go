package community

import (
	"context"
	"strings"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// ModerationRequest is content submitted for review.
type ModerationRequest struct {
	Text        string
	ContentType string
	ContentID   string
}

// Moderate submits content to the moderation procedure and returns its verdict.
func (s *Service) Moderate(ctx context.Context, req ModerationRequest) (any, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, invalid("content is required")
	}
	verdict, _, err := whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (any, error) {
		return b.Invoke(ctx, ProcModerateContent, map[string]any{
			"content_text":       req.Text,
			"content_type_param": req.ContentType,
			"content_id_param":   req.ContentID,
			"user_id_param":      uid,
		})
	})
	return verdict, err
}
