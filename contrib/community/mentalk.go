package community

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

const (
	DefaultSessionMinutes      = 60
	DefaultSessionParticipants = 10
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session is full")
	ErrAlreadyJoined   = errors.New("already joined this session")
)

// NewSession describes a MenTalk session to schedule.
type NewSession struct {
	Title           string
	Description     string
	ScheduledFor    time.Time
	DurationMinutes int
	MaxParticipants int
}

func sessionKeys(uid string) []models.QueryKey {
	return []models.QueryKey{SessionsKey(), UpcomingSessionKey(), ParticipationsKey(uid)}
}

func (s *Service) upcomingQuery() remote.SelectQuery {
	return remote.From(TableSessions).
		Where(
			remote.Eq("is_active", true),
			remote.Gte("scheduled_for", s.timestamp(s.now())),
		).
		OrderBy(remote.Asc("scheduled_for"))
}

// Sessions lists active sessions that have not started yet, soonest first,
// each with the number of members currently signed up.
func (s *Service) Sessions(ctx context.Context) ([]Session, error) {
	sel := s.upcomingQuery()
	entry, err := s.client.Queries().Ensure(ctx, SessionsKey(), func(ctx context.Context) (any, error) {
		return s.fetchSessions(ctx, sel)
	})
	if err != nil {
		return nil, err
	}
	sessions, ok := entry.Data.([]Session)
	if !ok && entry.Data != nil {
		return nil, fmt.Errorf("entry %s holds %T, not sessions", SessionsKey(), entry.Data)
	}
	return sessions, nil
}

func (s *Service) fetchSessions(ctx context.Context, sel remote.SelectQuery) ([]Session, error) {
	b := s.client.Backend()
	rows, err := b.Select(ctx, sel)
	if err != nil {
		return nil, err
	}
	sessions, err := remote.DecodeRows[Session](rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]any, len(sessions))
	for i, se := range sessions {
		ids[i] = se.ID
	}
	counts, err := activeParticipants(ctx, b, remote.In("session_id", ids...))
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Participants = counts[sessions[i].ID]
	}
	return sessions, nil
}

// activeParticipants counts, per session, the participants who have not left.
func activeParticipants(ctx context.Context, b remote.Reader, filters ...remote.Filter) (map[string]int, error) {
	rows, err := b.Select(ctx, remote.From(TableParticipants).
		Where(filters...).
		Where(remote.Is("left_at", nil)))
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.String("session_id")]++
	}
	return counts, nil
}

// UpcomingSession returns the next scheduled session, or nil if there is none.
func (s *Service) UpcomingSession(ctx context.Context) (*Session, error) {
	return whyfail.QueryOne[Session](ctx, s.client, UpcomingSessionKey(), s.upcomingQuery().WithLimit(1))
}

// MyParticipations returns the ids of the sessions the member is signed up for.
func (s *Service) MyParticipations(ctx context.Context) ([]string, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	parts, err := whyfail.Query[Participant](ctx, s.client, ParticipationsKey(uid),
		remote.From(TableParticipants).Where(remote.Eq("user_id", uid), remote.Is("left_at", nil)))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.SessionID
	}
	return ids, nil
}

// CreateSession schedules a session hosted by the member.
func (s *Service) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return Session{}, err
	}
	title := strings.TrimSpace(ns.Title)
	if title == "" {
		return Session{}, invalid("title is required")
	}
	if !ns.ScheduledFor.After(s.now()) {
		return Session{}, invalid("session must be scheduled in the future")
	}
	if ns.DurationMinutes < 0 || ns.MaxParticipants < 0 {
		return Session{}, invalid("duration and capacity must not be negative")
	}
	if ns.DurationMinutes == 0 {
		ns.DurationMinutes = DefaultSessionMinutes
	}
	if ns.MaxParticipants == 0 {
		ns.MaxParticipants = DefaultSessionParticipants
	}

	row := remote.Row{
		"title":            title,
		"scheduled_for":    s.timestamp(ns.ScheduledFor),
		"duration_minutes": ns.DurationMinutes,
		"max_participants": ns.MaxParticipants,
		"host_id":          uid,
		"is_active":        true,
	}
	if d := strings.TrimSpace(ns.Description); d != "" {
		row["description"] = d
	}

	session, _, err := whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (Session, error) {
		stored, err := b.Insert(ctx, TableSessions, row)
		if err != nil {
			return Session{}, err
		}
		return remote.Decode[Session](stored)
	}, sessionKeys(uid)...)
	return session, err
}

// JoinSession signs the member up for a session with room left.
func (s *Service) JoinSession(ctx context.Context, sessionID string) error {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	_, _, err = whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (struct{}, error) {
		rows, err := b.Select(ctx, remote.From(TableSessions).Where(remote.Eq("id", sessionID)).One())
		if remote.IsNoRows(err) {
			return struct{}{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return struct{}{}, err
		}
		session, err := remote.Decode[Session](rows[0])
		if err != nil {
			return struct{}{}, err
		}

		joined, err := activeParticipants(ctx, b, remote.Eq("session_id", sessionID), remote.Eq("user_id", uid))
		if err != nil {
			return struct{}{}, err
		}
		if joined[sessionID] > 0 {
			return struct{}{}, ErrAlreadyJoined
		}
		counts, err := activeParticipants(ctx, b, remote.Eq("session_id", sessionID))
		if err != nil {
			return struct{}{}, err
		}
		if session.MaxParticipants > 0 && counts[sessionID] >= session.MaxParticipants {
			return struct{}{}, ErrSessionFull
		}

		_, err = b.Insert(ctx, TableParticipants, remote.Row{
			"session_id":   sessionID,
			"user_id":      uid,
			"is_moderator": session.HostID == uid,
			"joined_at":    s.timestamp(s.now()),
		})
		return struct{}{}, err
	}, sessionKeys(uid)...)
	return err
}

// LeaveSession marks the member as having left a session.
func (s *Service) LeaveSession(ctx context.Context, sessionID string) error {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	_, _, err = whyfail.Mutate(ctx, s.client, func(ctx context.Context, b remote.Collaborator) (struct{}, error) {
		return struct{}{}, b.Update(ctx, TableParticipants,
			[]remote.Filter{
				remote.Eq("session_id", sessionID),
				remote.Eq("user_id", uid),
				remote.Is("left_at", nil),
			},
			remote.Row{"left_at": s.timestamp(s.now())})
	}, sessionKeys(uid)...)
	return err
}

// WatchSessions refreshes the session views on any change to sessions or
// participants.
func (s *Service) WatchSessions(ctx context.Context) (func() error, error) {
	uid, err := s.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	sessions := models.TableFilter(TableSessions)
	participants := models.TableFilter(TableParticipants)
	sessionViews := []models.QueryKey{SessionsKey(), UpcomingSessionKey()}
	memberViews := sessionKeys(uid)
	if err := s.client.Watch(ctx, sessions, sessionViews...); err != nil {
		return nil, err
	}
	if err := s.client.Watch(ctx, participants, memberViews...); err != nil {
		_ = s.client.Unwatch(sessions, sessionViews...)
		return nil, err
	}
	return func() error {
		return errors.Join(
			s.client.Unwatch(sessions, sessionViews...),
			s.client.Unwatch(participants, memberViews...))
	}, nil
}
