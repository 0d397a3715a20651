// Package index maintains the per-data-source secondary index sets:
// measures, practices, and frequencies seen. They answer inventory and
// "is this source warm" questions in O(1) and steer invalidation without
// ever scanning the primary keyspace. A dangling index member (entry gone,
// membership still present) is read as "needs refetch", never as an error.
package index

import (
	"context"
	"fmt"

	"github.com/praxisbi/dscache/internal/cachekey"
	"github.com/praxisbi/dscache/internal/store"
)

// SetKind names one of the three per-data-source sets.
type SetKind string

const (
	Measures    SetKind = "measures"
	Practices   SetKind = "practices"
	Frequencies SetKind = "frequencies"
)

// Kinds lists every set kind, in reporting order.
func Kinds() []SetKind {
	return []SetKind{Measures, Practices, Frequencies}
}

// Index is the SecondaryIndexStore over the shared backend.
type Index struct {
	store store.Store
	keys  cachekey.Builder
}

// New builds an Index over s using the key layout of keys.
func New(s store.Store, keys cachekey.Builder) *Index {
	return &Index{store: s, keys: keys}
}

// Register records the dimensions of an entry about to be written. Empty
// dimensions are not recorded; values are normalized the same way key
// segments are so members line up with entry keys.
func (i *Index) Register(ctx context.Context, dataSourceID int64, measure, practice, frequency string) error {
	members := map[SetKind]string{
		Measures:    cachekey.Normalize(measure),
		Practices:   cachekey.Normalize(practice),
		Frequencies: cachekey.Normalize(frequency),
	}
	for kind, member := range members {
		if member == "" {
			continue
		}
		if err := i.store.SetAdd(ctx, i.keys.IndexKey(dataSourceID, string(kind)), member); err != nil {
			return fmt.Errorf("index: register %s: %w", kind, err)
		}
	}
	return nil
}

// Members lists the recorded values of one set.
func (i *Index) Members(ctx context.Context, dataSourceID int64, kind SetKind) ([]string, error) {
	members, err := i.store.SetMembers(ctx, i.keys.IndexKey(dataSourceID, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("index: members %s: %w", kind, err)
	}
	return members, nil
}

// Cardinality reports the size of one set without fetching members.
func (i *Index) Cardinality(ctx context.Context, dataSourceID int64, kind SetKind) (int64, error) {
	n, err := i.store.SetCard(ctx, i.keys.IndexKey(dataSourceID, string(kind)))
	if err != nil {
		return 0, fmt.Errorf("index: cardinality %s: %w", kind, err)
	}
	return n, nil
}

// Remove drops members from one set. Used by invalidation after the
// corresponding entries are already gone.
func (i *Index) Remove(ctx context.Context, dataSourceID int64, kind SetKind, members ...string) error {
	normalized := make([]string, 0, len(members))
	for _, member := range members {
		if v := cachekey.Normalize(member); v != "" {
			normalized = append(normalized, v)
		}
	}
	if err := i.store.SetRemove(ctx, i.keys.IndexKey(dataSourceID, string(kind)), normalized...); err != nil {
		return fmt.Errorf("index: remove %s: %w", kind, err)
	}
	return nil
}

// Drop removes every index set of a data source.
func (i *Index) Drop(ctx context.Context, dataSourceID int64) error {
	keys := make([]string, 0, 3)
	for _, kind := range Kinds() {
		keys = append(keys, i.keys.IndexKey(dataSourceID, string(kind)))
	}
	if _, err := i.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("index: drop: %w", err)
	}
	return nil
}
