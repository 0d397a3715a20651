package rowset

import (
	"strconv"
	"time"
)

// Row is a single analytics record as returned by the query layer: field
// name to value. Values round-trip through JSON, so numbers arrive as
// float64 and dates as strings; the typed accessors below normalize that.
type Row map[string]any

// RowSet is an ordered sequence of rows. Filtering always preserves the
// input order (stable subsequence).
type RowSet []Row

// Int64 reads field as an integer identifier, tolerating the numeric
// shapes a JSON round trip can produce.
func (r Row) Int64(field string) (int64, bool) {
	switch v := r[field].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Float64 reads field as a numeric value.
func (r Row) Float64(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Time reads field as a timestamp. Accepts time.Time directly, RFC 3339, or
// the bare date form the analytics warehouse emits for period columns.
func (r Row) Time(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
