// Package backendtest holds the behavioral contract every backend adapter
// must satisfy, as a testify suite each adapter package runs against itself.
package backendtest

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// ProcedureFunc is the shape of a procedure registered for the suite.
type ProcedureFunc func(ctx context.Context, args map[string]any) (any, error)

// ContractSuite runs the backend contract. New must return a fresh, empty
// backend and a function registering procedures on it.
type ContractSuite struct {
	suite.Suite

	New func() (remote.Collaborator, func(name string, fn ProcedureFunc))

	backend  remote.Collaborator
	register func(name string, fn ProcedureFunc)
}

// EventTimeout bounds how long the suite waits for a live event.
var EventTimeout = 2 * time.Second

func (s *ContractSuite) SetupTest() {
	s.backend, s.register = s.New()
}

func (s *ContractSuite) TearDownTest() {
	s.Require().NoError(s.backend.Close(context.Background()))
}

func (s *ContractSuite) insert(table string, row remote.Row) remote.Row {
	stored, err := s.backend.Insert(context.Background(), table, row)
	s.Require().NoError(err)
	return stored
}

func (s *ContractSuite) TestInsertFillsGeneratedColumns() {
	stored := s.insert("journal_entries", remote.Row{"user_id": "u1", "title": "Lost the job"})

	s.NotEmpty(stored.String("id"))
	s.NotEmpty(stored.String("created_at"))
	s.Equal("Lost the job", stored["title"])

	rows, err := s.backend.Select(context.Background(),
		remote.From("journal_entries").Where(remote.Eq("id", stored.String("id"))))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("u1", rows[0]["user_id"])
}

func (s *ContractSuite) TestInsertKeepsGivenID() {
	stored := s.insert("profiles", remote.Row{"id": "u1", "first_name": "Ada"})
	s.Equal("u1", stored.String("id"))

	_, err := s.backend.Insert(context.Background(), "profiles", remote.Row{"id": "u1"})
	var we *remote.WriteError
	s.Require().ErrorAs(err, &we)
	s.Equal("profiles", we.Table)
}

func (s *ContractSuite) TestSelectFiltersOrdersAndLimits() {
	for i, title := range []string{"first", "second", "third"} {
		s.insert("journal_entries", remote.Row{
			"user_id":    "u1",
			"title":      title,
			"is_public":  i != 1,
			"mood_after": i + 5,
			"created_at": time.Date(2025, 1, i+1, 0, 0, 0, 0, time.UTC).Format(constants.TimestampLayout),
		})
	}
	s.insert("journal_entries", remote.Row{"user_id": "u2", "title": "other", "is_public": true})

	rows, err := s.backend.Select(context.Background(), remote.From("journal_entries").
		Where(remote.Eq("user_id", "u1"), remote.Eq("is_public", true)).
		OrderBy(remote.Desc("created_at")))
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal("third", rows[0]["title"])
	s.Equal("first", rows[1]["title"])
	s.EqualValues(7, rows[0]["mood_after"])

	rows, err = s.backend.Select(context.Background(), remote.From("journal_entries").
		Where(remote.Eq("user_id", "u1")).
		OrderBy(remote.Asc("created_at")).
		WithLimit(2))
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal("second", rows[1]["title"])

	rows, err = s.backend.Select(context.Background(), remote.From("journal_entries").
		WhereAny(remote.ILike("title", "%THI%"), remote.ILike("title", "%oth%")).
		OrderBy(remote.Asc("title")))
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal("other", rows[0]["title"])
}

func (s *ContractSuite) TestSingleRowReads() {
	_, err := s.backend.Select(context.Background(),
		remote.From("emotional_analytics").Where(remote.Eq("user_id", "u1")).One())
	s.True(remote.IsNoRows(err), "got %v", err)

	s.insert("emotional_analytics", remote.Row{"user_id": "u1"})
	s.insert("emotional_analytics", remote.Row{"user_id": "u1"})
	_, err = s.backend.Select(context.Background(),
		remote.From("emotional_analytics").Where(remote.Eq("user_id", "u1")).One())
	s.ErrorIs(err, constants.ErrMultipleRows)

	rows, err := s.backend.Select(context.Background(),
		remote.From("emotional_analytics").Where(remote.Eq("user_id", "u1")).WithLimit(1).One())
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *ContractSuite) TestUpdate() {
	s.insert("profiles", remote.Row{"id": "u1", "is_anonymous_mode": false, "updated_at": "2020-01-01T00:00:00.000000Z"})
	s.insert("profiles", remote.Row{"id": "u2", "is_anonymous_mode": false})

	err := s.backend.Update(context.Background(), "profiles",
		[]remote.Filter{remote.Eq("id", "u1")}, remote.Row{"is_anonymous_mode": true})
	s.Require().NoError(err)

	rows, err := s.backend.Select(context.Background(), remote.From("profiles").OrderBy(remote.Asc("id")))
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(true, rows[0]["is_anonymous_mode"])
	s.NotEqual("2020-01-01T00:00:00.000000Z", rows[0]["updated_at"])
	s.Equal(false, rows[1]["is_anonymous_mode"])

	err = s.backend.Update(context.Background(), "profiles", nil, remote.Row{"is_anonymous_mode": true})
	s.ErrorIs(err, constants.ErrInvalidQuery)
}

func (s *ContractSuite) TestDelete() {
	s.insert("journal_entries", remote.Row{"id": "e1", "user_id": "u1"})
	s.insert("journal_entries", remote.Row{"id": "e2", "user_id": "u1"})

	err := s.backend.Delete(context.Background(), "journal_entries",
		[]remote.Filter{remote.Eq("id", "e1"), remote.Eq("user_id", "u1")})
	s.Require().NoError(err)

	rows, err := s.backend.Select(context.Background(), remote.From("journal_entries"))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("e2", rows[0]["id"])
}

func (s *ContractSuite) TestInvoke() {
	s.register("moderate_content", func(_ context.Context, args map[string]any) (any, error) {
		if args["content_text"] == "" {
			return nil, errors.New("empty content")
		}
		return "approved", nil
	})

	res, err := s.backend.Invoke(context.Background(), "moderate_content", map[string]any{"content_text": "hello"})
	s.Require().NoError(err)
	s.Equal("approved", res)

	_, err = s.backend.Invoke(context.Background(), "moderate_content", map[string]any{"content_text": ""})
	s.Error(err)

	_, err = s.backend.Invoke(context.Background(), "no_such_procedure", nil)
	s.ErrorIs(err, constants.ErrUnknownProcedure)
}

func (s *ContractSuite) next(ch remote.Channel) (remote.Event, bool) {
	select {
	case ev, ok := <-ch.Events():
		return ev, ok
	case <-time.After(EventTimeout):
		s.FailNow("timed out waiting for a live event")
		return remote.Event{}, false
	}
}

func (s *ContractSuite) TestSubscribeDeliversMatchingEvents() {
	ctx := context.Background()
	mine, err := s.backend.Subscribe(ctx, models.EqFilter("journal_entries", "user_id", "u1"))
	s.Require().NoError(err)
	public, err := s.backend.Subscribe(ctx, models.EqFilter("journal_entries", "is_public", true))
	s.Require().NoError(err)

	s.insert("journal_entries", remote.Row{"id": "e0", "user_id": "u2", "is_public": false})
	s.insert("journal_entries", remote.Row{"id": "e1", "user_id": "u1", "is_public": true})

	ev, ok := s.next(mine)
	s.Require().True(ok)
	s.Equal(remote.InsertAction, ev.Action)
	s.Equal("e1", ev.Record.String("id"))

	ev, ok = s.next(public)
	s.Require().True(ok)
	s.Equal("e1", ev.Record.String("id"))

	// Making the entry private is still a change to the public set.
	s.Require().NoError(s.backend.Update(ctx, "journal_entries",
		[]remote.Filter{remote.Eq("id", "e1")}, remote.Row{"is_public": false}))
	ev, ok = s.next(public)
	s.Require().True(ok)
	s.Equal(remote.UpdateAction, ev.Action)
	s.Equal(false, ev.Record["is_public"])
	s.Equal(true, ev.Old["is_public"])

	s.Require().NoError(s.backend.Delete(ctx, "journal_entries", []remote.Filter{remote.Eq("id", "e1")}))
	_, ok = s.next(mine) // the update
	s.Require().True(ok)
	ev, ok = s.next(mine)
	s.Require().True(ok)
	s.Equal(remote.DeleteAction, ev.Action)
	s.Equal("e1", ev.Old.String("id"))

	s.Require().NoError(s.backend.Unsubscribe(ctx, mine))
	s.Require().NoError(s.backend.Unsubscribe(ctx, public))
}

func (s *ContractSuite) TestUnsubscribeClosesChannel() {
	ch, err := s.backend.Subscribe(context.Background(), models.TableFilter("mentalk_sessions"))
	s.Require().NoError(err)
	s.NotEmpty(ch.ID())
	s.Equal("mentalk_sessions", ch.Filter().Table)

	s.Require().NoError(s.backend.Unsubscribe(context.Background(), ch))
	_, ok := s.next(ch)
	s.False(ok)
	s.NoError(ch.Err())
}
