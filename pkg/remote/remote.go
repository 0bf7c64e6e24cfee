package remote

import (
	"context"

	"github.com/whyfailclub/whyfail.go/pkg/models"
)

// Row is one record as the backend returns it.
type Row map[string]any

// Clone deep-copies the row so that callers cannot alias backend state.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Row(t).Clone())
	case Row:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String returns the column as a string, or "" when absent or not a string.
func (r Row) String(column string) string {
	s, _ := r[column].(string)
	return s
}

type Reader interface {
	// Select returns the rows matching q. With q.Single it returns exactly
	// one row, constants.ErrNoRows or constants.ErrMultipleRows.
	Select(ctx context.Context, q SelectQuery) ([]Row, error)
}

type Writer interface {
	// Insert stores row and returns it as persisted, with generated columns.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to every row of table matching all filters.
	Update(ctx context.Context, table string, filters []Filter, patch Row) error
	// Delete removes every row of table matching all filters.
	Delete(ctx context.Context, table string, filters []Filter) error
}

type Invoker interface {
	Invoke(ctx context.Context, procedure string, args map[string]any) (any, error)
}

// Channel is one open live change feed.
//
// Events is closed when the channel stops delivering, either because
// Unsubscribe was called or because the connection dropped; Err tells the
// two apart (nil after a deliberate Unsubscribe).
type Channel interface {
	ID() string
	Filter() models.RealtimeFilter
	Events() <-chan Event
	Err() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, filter models.RealtimeFilter) (Channel, error)
	Unsubscribe(ctx context.Context, ch Channel) error
}

// Collaborator is the full capability set of a backend adapter.
type Collaborator interface {
	Reader
	Writer
	Invoker
	Subscriber
	Close(ctx context.Context) error
}
