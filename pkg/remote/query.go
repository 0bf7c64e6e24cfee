package remote

import (
	"fmt"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
)

type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIs       Op = "is"
	OpIn       Op = "in"
	OpContains Op = "contains"
	OpILike    Op = "ilike"
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIs, OpIn, OpContains, OpILike:
		return true
	}
	return false
}

// Filter is one column predicate.
type Filter struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Value  any    `json:"value"`
}

func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gt(column string, value any) Filter { return Filter{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Filter { return Filter{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func Is(column string, value any) Filter { return Filter{Column: column, Op: OpIs, Value: value} }
func In(column string, values ...any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }
func ILike(column, pattern string) Filter { return Filter{Column: column, Op: OpILike, Value: pattern} }
func Contains(column string, values ...any) Filter {
	return Filter{Column: column, Op: OpContains, Value: values}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%v", f.Column, f.Op, f.Value)
}

type Order struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

func Asc(column string) Order { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Descending: true} }

// SelectQuery describes one read: rows of Table matching every Filter and,
// when Any is not empty, at least one of Any; sorted by Order; at most
// Limit rows when Limit > 0.
type SelectQuery struct {
	Table   string   `json:"table"`
	Filters []Filter `json:"filters,omitempty"`
	Any     []Filter `json:"any,omitempty"`
	Order   []Order  `json:"order,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Single  bool     `json:"single,omitempty"`
}

func From(table string) SelectQuery {
	return SelectQuery{Table: table}
}

func (q SelectQuery) Where(filters ...Filter) SelectQuery {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

func (q SelectQuery) WhereAny(filters ...Filter) SelectQuery {
	q.Any = append(append([]Filter(nil), q.Any...), filters...)
	return q
}

func (q SelectQuery) OrderBy(orders ...Order) SelectQuery {
	q.Order = append(append([]Order(nil), q.Order...), orders...)
	return q
}

func (q SelectQuery) WithLimit(n int) SelectQuery {
	q.Limit = n
	return q
}

// One marks the query as a single-row read.
func (q SelectQuery) One() SelectQuery {
	q.Single = true
	return q
}

func (q SelectQuery) Validate() error {
	if q.Table == "" {
		return fmt.Errorf("%w: table is required", constants.ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", constants.ErrInvalidQuery, q.Limit)
	}
	if err := ValidateFilters(q.Filters); err != nil {
		return err
	}
	if err := ValidateFilters(q.Any); err != nil {
		return err
	}
	for _, o := range q.Order {
		if o.Column == "" {
			return fmt.Errorf("%w: order column is required", constants.ErrInvalidQuery)
		}
	}
	return nil
}

func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if f.Column == "" {
			return fmt.Errorf("%w: filter column is required", constants.ErrInvalidQuery)
		}
		if !f.Op.valid() {
			return fmt.Errorf("%w: unknown operator %q", constants.ErrInvalidQuery, f.Op)
		}
	}
	return nil
}
