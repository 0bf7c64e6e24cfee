package community

const (
	TableProfiles       = "profiles"
	TableJournalEntries = "journal_entries"
	TableSessions       = "mentalk_sessions"
	TableParticipants   = "mentalk_participants"
	TableSOSIncidents   = "sos_incidents"
	TableReports        = "content_reports"
	TableAnalytics      = "emotional_analytics"

	ProcModerateContent = "moderate_content"
	ProcAnalyzeEmotions = "analyze_user_emotions"
)

type Profile struct {
	ID              string  `json:"id"`
	Username        *string `json:"username,omitempty"`
	FirstName       *string `json:"first_name,omitempty"`
	LastName        *string `json:"last_name,omitempty"`
	AvatarURL       *string `json:"avatar_url,omitempty"`
	IsAnonymousMode bool    `json:"is_anonymous_mode"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// DisplayName is what other members see as the author of a public story.
func (p *Profile) DisplayName() string {
	if p == nil || p.IsAnonymousMode {
		return "Anonymous"
	}
	var first, last string
	if p.FirstName != nil {
		first = *p.FirstName
	}
	if p.LastName != nil {
		last = *p.LastName
	}
	switch {
	case first == "" && last == "":
		return "Anonymous"
	case last == "":
		return first
	case first == "":
		return last
	}
	return first + " " + last
}

type JournalEntry struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	IsPublic       bool     `json:"is_public"`
	BounceBackPlan *string  `json:"bounce_back_plan,omitempty"`
	MoodBefore     *int     `json:"mood_before,omitempty"`
	MoodAfter      *int     `json:"mood_after,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

// Story is a public journal entry with its author's display name.
type Story struct {
	JournalEntry
	Author string `json:"author"`
}

type Session struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     *string `json:"description,omitempty"`
	HostID          string  `json:"host_id"`
	ScheduledFor    string  `json:"scheduled_for"`
	DurationMinutes int     `json:"duration_minutes"`
	MaxParticipants int     `json:"max_participants"`
	IsActive        bool    `json:"is_active"`
	Timezone        *string `json:"timezone,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`

	Participants int `json:"participants"`
}

type Participant struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"session_id"`
	UserID      string  `json:"user_id"`
	IsModerator bool    `json:"is_moderator"`
	JoinedAt    string  `json:"joined_at,omitempty"`
	LeftAt      *string `json:"left_at,omitempty"`
}

type Analytics struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	AnalysisDate   string   `json:"analysis_date,omitempty"`
	EmotionalTrend *string  `json:"emotional_trend,omitempty"`
	OptimismScore  *float64 `json:"optimism_score,omitempty"`
	KeyThemes      []string `json:"key_themes,omitempty"`
	Insights       *string  `json:"insights,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

type SupportContacts struct {
	CrisisHotline string `json:"crisis_hotline"`
	TextLine      string `json:"text_line"`
	Emergency     string `json:"emergency"`
}

type SOSIncident struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	IncidentType       string          `json:"incident_type"`
	Description        *string         `json:"description,omitempty"`
	Severity           string          `json:"severity"`
	Status             string          `json:"status,omitempty"`
	SupportContactInfo SupportContacts `json:"support_contact_info"`
	CreatedAt          string          `json:"created_at,omitempty"`
}

type ContentReport struct {
	ID                  string  `json:"id"`
	ReporterID          string  `json:"reporter_id"`
	ReportedContentType string  `json:"reported_content_type"`
	ReportedContentID   string  `json:"reported_content_id"`
	ReportedUserID      *string `json:"reported_user_id,omitempty"`
	ReportReason        string  `json:"report_reason"`
	ReportDescription   *string `json:"report_description,omitempty"`
	CreatedAt           string  `json:"created_at,omitempty"`
}
