package remote

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
)

// Match reports whether row satisfies f. Absent columns read as nil.
func (f Filter) Match(row Row) bool {
	v := row[f.Column]

	switch f.Op {
	case OpEq:
		return v != nil && equalValues(v, f.Value)
	case OpNeq:
		return v != nil && !equalValues(v, f.Value)
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compareValues(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpIs:
		if f.Value == nil {
			return v == nil
		}
		return equalValues(v, f.Value)
	case OpIn:
		for _, candidate := range toSlice(f.Value) {
			if v != nil && equalValues(v, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		have := toSlice(v)
		for _, want := range toSlice(f.Value) {
			found := false
			for _, h := range have {
				if equalValues(h, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return v != nil
	case OpILike:
		s, ok := v.(string)
		pattern, pok := f.Value.(string)
		return ok && pok && likeMatch(strings.ToLower(s), strings.ToLower(pattern))
	}
	return false
}

// MatchAll reports whether row satisfies every filter.
func MatchAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(row) {
			return false
		}
	}
	return true
}

// Matches reports whether row is selected by q, ignoring order and limit.
func (q SelectQuery) Matches(row Row) bool {
	if !MatchAll(row, q.Filters) {
		return false
	}
	if len(q.Any) == 0 {
		return true
	}
	for _, f := range q.Any {
		if f.Match(row) {
			return true
		}
	}
	return false
}

// Apply evaluates q over rows in memory: filter, sort, limit, then the
// single-row rule. Rows are cloned.
func Apply(rows []Row, q SelectQuery) ([]Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return lessRows(out[i], out[j], q.Order)
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	if q.Single {
		switch len(out) {
		case 0:
			return nil, constants.ErrNoRows
		case 1:
		default:
			return nil, constants.ErrMultipleRows
		}
	}
	return out, nil
}

// lessRows orders nil values last regardless of direction.
func lessRows(a, b Row, orders []Order) bool {
	for _, o := range orders {
		av, bv := a[o.Column], b[o.Column]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			return false
		case bv == nil:
			return true
		}
		c, ok := compareValues(av, bv)
		if !ok || c == 0 {
			continue
		}
		if o.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// likeMatch implements SQL LIKE with % as the only wildcard.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}

// Describe renders q for logs.
func (q SelectQuery) Describe() string {
	var b strings.Builder
	b.WriteString(q.Table)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " %s", f)
	}
	if len(q.Any) > 0 {
		b.WriteString(" or(")
		for i, f := range q.Any {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.String())
		}
		b.WriteString(")")
	}
	for _, o := range q.Order {
		dir := "asc"
		if o.Descending {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order=%s.%s", o.Column, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit=%d", q.Limit)
	}
	if q.Single {
		b.WriteString(" single")
	}
	return b.String()
}
