// Package cachekey owns the backend key layout for the data source cache:
// data entries, secondary index sets, and warming locks. Keys encode only
// cacheable dimensions (data source, measure, practice hint, frequency) —
// never caller identity, date ranges, or field filters, so requests that
// differ only in who is asking resolve to the same entry.
package cachekey

import (
	"fmt"
	"strconv"
	"strings"
)

// Wildcard marks an unspecified key segment. It doubles as the fallback
// target: a request for practice 114 can be served by the practice-wildcard
// entry, with scoping applied after the fetch.
const Wildcard = "any"

// DefaultPrefix namespaces every key the engine writes.
const DefaultPrefix = "dscache"

// Params are the cacheable dimensions of a fetch. DataSourceID is required;
// the rest default to Wildcard when empty.
type Params struct {
	DataSourceID int64
	Measure      string
	PracticeHint string
	Frequency    string
}

// Builder renders keys under a fixed namespace prefix.
type Builder struct {
	prefix string
}

// NewBuilder returns a Builder for prefix, falling back to DefaultPrefix
// when prefix is empty.
func NewBuilder(prefix string) Builder {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return Builder{prefix: prefix}
}

// Build renders the single most-specific key for params. It is a pure
// function of the cacheable dimensions. A non-positive data source id is a
// programmer error and panics.
func (b Builder) Build(p Params) string {
	mustDataSource(p.DataSourceID)
	return fmt.Sprintf("%s:ds:%d:m:%s:p:%s:freq:%s",
		b.prefix, p.DataSourceID, segment(p.Measure), segment(p.PracticeHint), segment(p.Frequency))
}

// Candidates returns the hierarchical fallback list for params, ordered
// most-specific to least-specific and with consecutive duplicates removed.
// The last candidate is always the data-source-only wildcard key.
func (b Builder) Candidates(p Params) []string {
	mustDataSource(p.DataSourceID)
	ladder := []Params{
		p,
		{DataSourceID: p.DataSourceID, Measure: p.Measure, Frequency: p.Frequency},
		{DataSourceID: p.DataSourceID, Measure: p.Measure},
		{DataSourceID: p.DataSourceID},
	}
	keys := make([]string, 0, len(ladder))
	for _, rung := range ladder {
		key := b.Build(rung)
		if len(keys) > 0 && keys[len(keys)-1] == key {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Pattern renders a glob for pattern-based invalidation. Empty measure and
// frequency match every entry of the data source.
func (b Builder) Pattern(dataSourceID int64, measure, frequency string) string {
	mustDataSource(dataSourceID)
	return fmt.Sprintf("%s:ds:%d:m:%s:p:*:freq:%s",
		b.prefix, dataSourceID, glob(measure), glob(frequency))
}

// IndexKey renders the key of one secondary index set (set name like
// "measures", "practices", or "frequencies").
func (b Builder) IndexKey(dataSourceID int64, set string) string {
	mustDataSource(dataSourceID)
	return fmt.Sprintf("%s:ds:%d:%s", b.prefix, dataSourceID, set)
}

// IndexPattern matches every secondary index set of a data source.
func (b Builder) IndexPattern(dataSourceID int64) string {
	mustDataSource(dataSourceID)
	return fmt.Sprintf("%s:ds:%d:*", b.prefix, dataSourceID)
}

// LockKey renders the warming lock key for a data source.
func (b Builder) LockKey(dataSourceID int64) string {
	mustDataSource(dataSourceID)
	return fmt.Sprintf("%s:lock:warm:%d", b.prefix, dataSourceID)
}

// EntryPrefix matches every data entry under the namespace, for inventory
// scans that must not touch index or lock keys.
func (b Builder) EntryPrefix(dataSourceID int64) string {
	mustDataSource(dataSourceID)
	return fmt.Sprintf("%s:ds:%d:m:", b.prefix, dataSourceID)
}

// AllEntriesPattern matches every data entry in the namespace regardless of
// data source, for inventory scans.
func (b Builder) AllEntriesPattern() string {
	return fmt.Sprintf("%s:ds:*:m:*", b.prefix)
}

// DataSourceID extracts the data source id from a data entry key rendered
// by this builder. ok is false for keys outside the layout.
func (b Builder) DataSourceID(key string) (int64, bool) {
	rest, found := strings.CutPrefix(key, b.prefix+":ds:")
	if !found {
		return 0, false
	}
	idPart, _, found := strings.Cut(rest, ":")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mustDataSource(id int64) {
	if id <= 0 {
		panic(fmt.Sprintf("cachekey: data source id %d invalid", id))
	}
}

// Normalize canonicalizes a cacheable dimension value so logically equal
// parameters render identical keys and index members regardless of caller
// casing or spacing.
func Normalize(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.ReplaceAll(v, ":", "-")
	v = strings.ReplaceAll(v, " ", "-")
	return v
}

func segment(v string) string {
	if normalized := Normalize(v); normalized != "" {
		return normalized
	}
	return Wildcard
}

func glob(v string) string {
	if strings.TrimSpace(v) == "" {
		return "*"
	}
	return segment(v)
}
