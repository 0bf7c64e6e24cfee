package remote

import "github.com/whyfailclub/whyfail.go/pkg/models"

type Action string

const (
	InsertAction Action = "INSERT"
	UpdateAction Action = "UPDATE"
	DeleteAction Action = "DELETE"
)

// Event is one row-change notification.
// Old is the previous row for updates and deletes when the backend knows it.
type Event struct {
	Table  string `json:"table"`
	Action Action `json:"action"`
	Record Row    `json:"record,omitempty"`
	Old    Row    `json:"old,omitempty"`
}

// Matches reports whether the event concerns rows selected by filter,
// either before or after the change. A row leaving the filter (a story made
// private, an entry deleted) is a change to the filtered set too.
func (e Event) Matches(filter models.RealtimeFilter) bool {
	return filter.Matches(e.Table, e.Record) || filter.Matches(e.Table, e.Old)
}

// Clone deep-copies both rows.
func (e Event) Clone() Event {
	e.Record = e.Record.Clone()
	e.Old = e.Old.Clone()
	return e
}
