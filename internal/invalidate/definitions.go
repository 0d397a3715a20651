package invalidate

import (
	"context"
	"maps"
	"sync"

	"log/slog"

	"github.com/praxisbi/dscache/internal/config"
)

// DefinitionsSync drops cached data for sources whose definitions changed
// or disappeared between two snapshots of the definitions document. A
// changed schema means previously cached rows may expose fields or practice
// mappings the new definition no longer vouches for.
type DefinitionsSync struct {
	service *Service

	mu       sync.Mutex
	previous map[int64]config.DataSourceDefinition
}

// NewDefinitionsSync wires the invalidation service to definitions
// snapshots. The first Apply call only seeds the baseline.
func NewDefinitionsSync(service *Service) *DefinitionsSync {
	return &DefinitionsSync{service: service}
}

// Apply diffs the snapshot against the previous one and invalidates every
// data source that changed or was removed. New sources have nothing cached
// yet and are only recorded. Intended as the onChange callback of
// config.WatchDefinitions.
func (d *DefinitionsSync) Apply(ctx context.Context, defs []config.DataSourceDefinition) {
	current := make(map[int64]config.DataSourceDefinition, len(defs))
	for _, def := range defs {
		current[def.ID] = def
	}

	d.mu.Lock()
	previous := d.previous
	d.previous = current
	d.mu.Unlock()

	if previous == nil {
		return
	}

	for id, old := range previous {
		now, stillThere := current[id]
		if stillThere && definitionsEqual(old, now) {
			continue
		}
		if _, err := d.service.Invalidate(ctx, id, "", ""); err != nil {
			d.service.logger.Error("definitions sync invalidation failed",
				slog.Int64("data_source", id),
				slog.Any("error", err))
		}
	}
}

func definitionsEqual(a, b config.DataSourceDefinition) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.PracticeField == b.PracticeField &&
		a.DateField == b.DateField &&
		maps.Equal(a.FilterableFields, b.FilterableFields)
}
