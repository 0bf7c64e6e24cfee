package community

import (
	"context"
	"slices"
	"strings"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

var (
	incidentTypes = []string{"crisis", "support_request", "emergency"}
	severities    = []string{"low", "medium", "high", "critical"}
)

const defaultSeverity = "medium"

// CrisisContacts is attached to every SOS request and shown alongside it.
func CrisisContacts() SupportContacts {
	return SupportContacts{
		CrisisHotline: "988",
		TextLine:      "Text HOME to 741741",
		Emergency:     "911",
	}
}

// SOSRequest is a member asking for immediate help.
type SOSRequest struct {
	IncidentType string
	Description  string
	Severity     string
}

// RequestSupport records an SOS incident for the member.
func (s *Service) RequestSupport(ctx context.Context, req SOSRequest) (SOSIncident, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return SOSIncident{}, err
	}
	if !slices.Contains(incidentTypes, req.IncidentType) {
		return SOSIncident{}, invalid("unknown incident type %q", req.IncidentType)
	}
	if req.Severity == "" {
		req.Severity = defaultSeverity
	}
	if !slices.Contains(severities, req.Severity) {
		return SOSIncident{}, invalid("unknown severity %q", req.Severity)
	}

	contacts := CrisisContacts()
	row := remote.Row{
		"user_id":       uid,
		"incident_type": req.IncidentType,
		"description":   nullable(req.Description),
		"severity":      req.Severity,
		"support_contact_info": map[string]any{
			"crisis_hotline": contacts.CrisisHotline,
			"text_line":      contacts.TextLine,
			"emergency":      contacts.Emergency,
		},
	}

	incident, _, err := whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (SOSIncident, error) {
		stored, err := b.Insert(ctx, TableSOSIncidents, row)
		if err != nil {
			return SOSIncident{}, err
		}
		return remote.Decode[SOSIncident](stored)
	})
	if err != nil {
		return SOSIncident{}, err
	}
	s.logger.Info("SOS request recorded", "incident", incident.ID, "type", incident.IncidentType, "severity", incident.Severity)
	return incident, nil
}

// nullable trims s and maps the empty string to a null column.
func nullable(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}
