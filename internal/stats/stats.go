// Package stats reports cache inventory for observability dashboards. The
// snapshot is assembled from backend key metadata and secondary index
// cardinalities only: row payloads are never deserialized just to be
// counted.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/praxisbi/dscache/internal/cachekey"
	"github.com/praxisbi/dscache/internal/index"
	"github.com/praxisbi/dscache/internal/store"
)

// DataSourceStats is the per-source slice of a snapshot.
type DataSourceStats struct {
	Keys        int64 `json:"keys"`
	SizeBytes   int64 `json:"sizeBytes"`
	Measures    int64 `json:"measures"`
	Practices   int64 `json:"practices"`
	Frequencies int64 `json:"frequencies"`
}

// Snapshot is a point-in-time view of the cache inventory.
type Snapshot struct {
	TakenAt        time.Time                 `json:"takenAt"`
	TotalKeys      int64                     `json:"totalKeys"`
	TotalSizeBytes int64                     `json:"totalSizeBytes"`
	ByDataSource   map[int64]DataSourceStats `json:"byDataSource"`
}

// Collector is the StatsCollector.
type Collector struct {
	store store.Store
	index *index.Index
	keys  cachekey.Builder
}

// New constructs a Collector.
func New(s store.Store, idx *index.Index, keys cachekey.Builder) *Collector {
	return &Collector{store: s, index: idx, keys: keys}
}

// Snapshot inventories every data entry in the namespace. Keys that expire
// between the scan and the size probe are simply not counted.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	keys, err := c.store.Keys(ctx, c.keys.AllEntriesPattern())
	if err != nil {
		return Snapshot{}, fmt.Errorf("stats: scan entries: %w", err)
	}

	snapshot := Snapshot{
		TakenAt:      time.Now().UTC(),
		ByDataSource: make(map[int64]DataSourceStats),
	}

	for _, key := range keys {
		dataSourceID, ok := c.keys.DataSourceID(key)
		if !ok {
			continue
		}
		size, present, err := c.store.ValueSize(ctx, key)
		if err != nil {
			return Snapshot{}, fmt.Errorf("stats: size %s: %w", key, err)
		}
		if !present {
			continue
		}
		snapshot.TotalKeys++
		snapshot.TotalSizeBytes += size

		perSource := snapshot.ByDataSource[dataSourceID]
		perSource.Keys++
		perSource.SizeBytes += size
		snapshot.ByDataSource[dataSourceID] = perSource
	}

	for dataSourceID, perSource := range snapshot.ByDataSource {
		if perSource.Measures, err = c.index.Cardinality(ctx, dataSourceID, index.Measures); err != nil {
			return Snapshot{}, fmt.Errorf("stats: measures cardinality: %w", err)
		}
		if perSource.Practices, err = c.index.Cardinality(ctx, dataSourceID, index.Practices); err != nil {
			return Snapshot{}, fmt.Errorf("stats: practices cardinality: %w", err)
		}
		if perSource.Frequencies, err = c.index.Cardinality(ctx, dataSourceID, index.Frequencies); err != nil {
			return Snapshot{}, fmt.Errorf("stats: frequencies cardinality: %w", err)
		}
		snapshot.ByDataSource[dataSourceID] = perSource
	}

	return snapshot, nil
}
