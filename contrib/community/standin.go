package community

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// TableModeration receives the verdicts of the stand-in moderation procedure.
const TableModeration = "content_moderation"

// Procedure is the signature local backends register procedures with.
type Procedure func(ctx context.Context, args map[string]any) (any, error)

var crisisPhrases = []string{"kill myself", "suicide", "end it all", "hurt myself", "self harm"}

// StandInProcedures returns simple local versions of the moderation and
// emotion-analysis procedures for backends that run in process. The hosted
// versions are opaque; these only keep the flows working end to end.
func StandInProcedures(b remote.Collaborator, now func() time.Time) map[string]Procedure {
	if now == nil {
		now = time.Now
	}
	return map[string]Procedure{
		ProcModerateContent: func(ctx context.Context, args map[string]any) (any, error) {
			return moderateLocally(ctx, b, args)
		},
		ProcAnalyzeEmotions: func(ctx context.Context, args map[string]any) (any, error) {
			return analyzeLocally(ctx, b, now, args)
		},
	}
}

func moderateLocally(ctx context.Context, b remote.Writer, args map[string]any) (any, error) {
	text, _ := args["content_text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: content_text is required", ProcModerateContent)
	}

	status, urgency, score := "approved", "low", 0.0
	lower := strings.ToLower(text)
	for _, p := range crisisPhrases {
		if strings.Contains(lower, p) {
			status, urgency, score = "flagged", "high", 0.9
			break
		}
	}

	_, err := b.Insert(ctx, TableModeration, remote.Row{
		"content_id":        args["content_id_param"],
		"content_type":      args["content_type_param"],
		"user_id":           args["user_id_param"],
		"moderation_status": status,
		"urgency_level":     urgency,
		"ai_score":          score,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": status, "urgency_level": urgency}, nil
}

func analyzeLocally(ctx context.Context, b remote.Collaborator, now func() time.Time, args map[string]any) (any, error) {
	uid, _ := args["user_uuid"].(string)
	if uid == "" {
		return nil, fmt.Errorf("%s: user_uuid is required", ProcAnalyzeEmotions)
	}
	rows, err := b.Select(ctx, remote.From(TableJournalEntries).Where(remote.Eq("user_id", uid)))
	if err != nil {
		return nil, err
	}
	entries, err := remote.DecodeRows[JournalEntry](rows)
	if err != nil {
		return nil, err
	}

	var before, after []int
	tagCounts := make(map[string]int)
	var tagOrder []string
	for _, e := range entries {
		if e.MoodBefore != nil {
			before = append(before, *e.MoodBefore)
		}
		if e.MoodAfter != nil {
			after = append(after, *e.MoodAfter)
		}
		for _, t := range e.Tags {
			if tagCounts[t] == 0 {
				tagOrder = append(tagOrder, t)
			}
			tagCounts[t]++
		}
	}

	trend := "stable"
	switch mb, ma := mean(before), mean(after); {
	case len(before) == 0 || len(after) == 0:
	case ma > mb:
		trend = "improving"
	case ma < mb:
		trend = "declining"
	}

	sort.SliceStable(tagOrder, func(i, j int) bool { return tagCounts[tagOrder[i]] > tagCounts[tagOrder[j]] })
	if len(tagOrder) > 3 {
		tagOrder = tagOrder[:3]
	}
	themes := make([]any, len(tagOrder))
	for i, t := range tagOrder {
		themes[i] = t
	}

	row := remote.Row{
		"user_id":         uid,
		"analysis_date":   now().UTC().Format(time.DateOnly),
		"emotional_trend": trend,
		"key_themes":      themes,
		"insights":        fmt.Sprintf("Based on %d journal entries.", len(entries)),
	}
	if len(after) > 0 {
		row["optimism_score"] = mean(after) / 10
	}
	stored, err := b.Insert(ctx, TableAnalytics, row)
	if err != nil {
		return nil, err
	}
	return stored.String("id"), nil
}

func mean(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}
