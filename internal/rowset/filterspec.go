package rowset

import "time"

// Operator is an advanced-filter comparison.
type Operator string

const (
	OpEq       Operator = "eq"
	OpIn       Operator = "in"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// DateRange bounds the date attribute of rows, inclusive on both ends.
// A range missing either bound is a pass-through.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Bounded reports whether both ends are present.
func (r DateRange) Bounded() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

// AdvancedFilter is one field-level predicate. Filters combine with AND.
type AdvancedFilter struct {
	Field    string
	Operator Operator
	Value    any
}

// FilterSpec is the caller-supplied post-fetch filtering: date range first,
// then advanced filters, always after RBAC. None of it reaches cache keys.
type FilterSpec struct {
	DateRange       *DateRange
	AdvancedFilters []AdvancedFilter
}
