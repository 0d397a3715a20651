// Package memfilter applies caller-specific filtering to an already-fetched
// row set: date range first, then advanced field filters. Both operations
// are pure and order-preserving. They run strictly after RBAC filtering and
// never influence cache keys.
package memfilter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/praxisbi/dscache/internal/rowset"
)

// ErrInvalidFilterField reports an advanced filter naming a field outside
// the data source's allow-list. The whole request is rejected; dropping the
// filter silently would widen the result set behind the caller's back.
var ErrInvalidFilterField = errors.New("memfilter: filter field not allowed")

// ErrInvalidFilterOperator reports an operator outside the supported set.
var ErrInvalidFilterOperator = errors.New("memfilter: filter operator not supported")

// ApplyDateRange keeps rows whose date attribute falls inside [start, end],
// inclusive. A range missing either bound passes every row through. Rows
// whose date attribute is absent or unreadable do not match a bounded range.
func ApplyDateRange(rows rowset.RowSet, dateField string, dateRange *rowset.DateRange) rowset.RowSet {
	if dateRange == nil || !dateRange.Bounded() {
		return rows
	}
	filtered := make(rowset.RowSet, 0, len(rows))
	for _, row := range rows {
		ts, ok := row.Time(dateField)
		if !ok {
			continue
		}
		if ts.Before(dateRange.Start) || ts.After(dateRange.End) {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered
}

// ApplyAdvancedFilters keeps rows matching every filter (logical AND).
// Every filter field must be on the schema's allow-list and every operator
// in the supported set; otherwise the whole call fails and no rows are
// returned.
func ApplyAdvancedFilters(rows rowset.RowSet, filters []rowset.AdvancedFilter, schema rowset.Schema) (rowset.RowSet, error) {
	if len(filters) == 0 {
		return rows, nil
	}

	kinds := make([]rowset.FieldKind, len(filters))
	for i, filter := range filters {
		kind, ok := schema.FilterableKind(filter.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilterField, filter.Field)
		}
		if !validOperator(filter.Operator) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilterOperator, filter.Operator)
		}
		kinds[i] = kind
	}

	filtered := make(rowset.RowSet, 0, len(rows))
	for _, row := range rows {
		if rowMatchesAll(row, filters, kinds) {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

func validOperator(op rowset.Operator) bool {
	switch op {
	case rowset.OpEq, rowset.OpIn, rowset.OpGt, rowset.OpLt, rowset.OpGte, rowset.OpLte, rowset.OpContains:
		return true
	default:
		return false
	}
}

func rowMatchesAll(row rowset.Row, filters []rowset.AdvancedFilter, kinds []rowset.FieldKind) bool {
	for i, filter := range filters {
		if !rowMatches(row, filter, kinds[i]) {
			return false
		}
	}
	return true
}

func rowMatches(row rowset.Row, filter rowset.AdvancedFilter, kind rowset.FieldKind) bool {
	switch kind {
	case rowset.FieldNumber:
		return matchNumber(row, filter)
	case rowset.FieldDate:
		return matchDate(row, filter)
	default:
		return matchString(row, filter)
	}
}

func matchNumber(row rowset.Row, filter rowset.AdvancedFilter) bool {
	have, ok := row.Float64(filter.Field)
	if !ok {
		return false
	}
	if filter.Operator == rowset.OpIn {
		for _, candidate := range valueList(filter.Value) {
			if want, ok := toFloat(candidate); ok && have == want {
				return true
			}
		}
		return false
	}
	want, ok := toFloat(filter.Value)
	if !ok {
		return false
	}
	switch filter.Operator {
	case rowset.OpEq:
		return have == want
	case rowset.OpGt:
		return have > want
	case rowset.OpLt:
		return have < want
	case rowset.OpGte:
		return have >= want
	case rowset.OpLte:
		return have <= want
	default:
		return false
	}
}

func matchDate(row rowset.Row, filter rowset.AdvancedFilter) bool {
	have, ok := row.Time(filter.Field)
	if !ok {
		return false
	}
	if filter.Operator == rowset.OpIn {
		for _, candidate := range valueList(filter.Value) {
			if want, ok := toTime(candidate); ok && have.Equal(want) {
				return true
			}
		}
		return false
	}
	want, ok := toTime(filter.Value)
	if !ok {
		return false
	}
	switch filter.Operator {
	case rowset.OpEq:
		return have.Equal(want)
	case rowset.OpGt:
		return have.After(want)
	case rowset.OpLt:
		return have.Before(want)
	case rowset.OpGte:
		return !have.Before(want)
	case rowset.OpLte:
		return !have.After(want)
	default:
		return false
	}
}

func matchString(row rowset.Row, filter rowset.AdvancedFilter) bool {
	raw, present := row[filter.Field]
	if !present {
		return false
	}
	have := toString(raw)
	if filter.Operator == rowset.OpIn {
		for _, candidate := range valueList(filter.Value) {
			if have == toString(candidate) {
				return true
			}
		}
		return false
	}
	want := toString(filter.Value)
	switch filter.Operator {
	case rowset.OpEq:
		return have == want
	case rowset.OpContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case rowset.OpGt:
		return have > want
	case rowset.OpLt:
		return have < want
	case rowset.OpGte:
		return have >= want
	case rowset.OpLte:
		return have <= want
	default:
		return false
	}
}

func valueList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out
	default:
		return nil
	}
}

func toFloat(value any) (float64, bool) {
	return rowset.Row{"v": value}.Float64("v")
}

func toTime(value any) (time.Time, bool) {
	return rowset.Row{"v": value}.Time("v")
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
