package community

import (
	"context"
	"slices"
	"strings"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

var (
	reportReasons      = []string{"harassment", "spam", "self_harm", "inappropriate", "other"}
	reportContentTypes = []string{"journal_entry", "story", "comment"}
)

// Report flags a piece of content for review.
type Report struct {
	ContentType    string
	ContentID      string
	ReportedUserID string
	Reason         string
	Description    string
}

// ReportContent files a report from the member.
func (s *Service) ReportContent(ctx context.Context, r Report) (ContentReport, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return ContentReport{}, err
	}
	if !slices.Contains(reportContentTypes, r.ContentType) {
		return ContentReport{}, invalid("unknown content type %q", r.ContentType)
	}
	if strings.TrimSpace(r.ContentID) == "" {
		return ContentReport{}, invalid("content id is required")
	}
	if !slices.Contains(reportReasons, r.Reason) {
		return ContentReport{}, invalid("unknown report reason %q", r.Reason)
	}

	row := remote.Row{
		"reporter_id":           uid,
		"reported_content_type": r.ContentType,
		"reported_content_id":   r.ContentID,
		"reported_user_id":      nullable(r.ReportedUserID),
		"report_reason":         r.Reason,
		"report_description":    nullable(r.Description),
	}
	report, _, err := whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (ContentReport, error) {
		stored, err := b.Insert(ctx, TableReports, row)
		if err != nil {
			return ContentReport{}, err
		}
		return remote.Decode[ContentReport](stored)
	})
	return report, err
}
