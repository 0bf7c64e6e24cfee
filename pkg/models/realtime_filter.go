package models

import (
	"fmt"
	"strings"
)

// RealtimeFilter selects which row-change notifications of a table are of
// interest. Without a Column every change to the table matches. The
// predicate form follows the "column=eq.value" syntax of the hosted
// backend's change feed.
type RealtimeFilter struct {
	Table  string
	Column string
	Value  string
}

// TableFilter matches every change to table.
func TableFilter(table string) RealtimeFilter {
	return RealtimeFilter{Table: table}
}

// EqFilter matches changes to table whose column equals value.
func EqFilter(table, column string, value any) RealtimeFilter {
	return RealtimeFilter{Table: table, Column: column, Value: fmt.Sprint(value)}
}

// ParseRealtimeFilter parses predicates of the form "user_id=eq.u1".
// An empty predicate yields a table-wide filter.
func ParseRealtimeFilter(table, predicate string) (RealtimeFilter, error) {
	if table == "" {
		return RealtimeFilter{}, fmt.Errorf("realtime filter: table is required")
	}
	if predicate == "" {
		return TableFilter(table), nil
	}
	column, rest, ok := strings.Cut(predicate, "=")
	if !ok || column == "" {
		return RealtimeFilter{}, fmt.Errorf("realtime filter: malformed predicate %q", predicate)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return RealtimeFilter{}, fmt.Errorf("realtime filter: only eq predicates are supported, got %q", predicate)
	}
	return RealtimeFilter{Table: table, Column: column, Value: value}, nil
}

// Predicate renders the filter's predicate, empty for a table-wide filter.
func (f RealtimeFilter) Predicate() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// String identifies the filter; two filters with the same String share one channel.
func (f RealtimeFilter) String() string {
	if p := f.Predicate(); p != "" {
		return f.Table + ":" + p
	}
	return f.Table
}

// Matches reports whether a record of table satisfies the filter.
// Values are compared in their fmt.Sprint form, so a boolean column
// matches the predicate value "true".
func (f RealtimeFilter) Matches(table string, record map[string]any) bool {
	if table != f.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	if record == nil {
		return false
	}
	v, ok := record[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}
