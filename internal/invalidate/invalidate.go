// Package invalidate removes cache entries and their secondary index
// membership when a data source's configuration changes upstream. Entries
// go first, indices second: a reader who races the deletion sees at worst a
// dangling index member, which every lookup path treats as "needs refetch".
package invalidate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/praxisbi/dscache/internal/cachekey"
	"github.com/praxisbi/dscache/internal/index"
	"github.com/praxisbi/dscache/internal/metrics"
	"github.com/praxisbi/dscache/internal/store"
)

// Service is the InvalidationService.
type Service struct {
	store   store.Store
	index   *index.Index
	keys    cachekey.Builder
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs the service.
func New(s store.Store, idx *index.Index, keys cachekey.Builder, logger *slog.Logger, recorder *metrics.Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, index: idx, keys: keys, logger: logger, metrics: recorder}
}

// Invalidate deletes the cached entries of a data source, optionally
// narrowed to one measure and/or frequency, and prunes the matching index
// membership. It returns the number of keys removed.
//
// Narrowed invalidations also remove the wildcard entries that could serve
// the invalidated slice through hierarchical fallback; leaving them behind
// would keep stale data reachable.
func (s *Service) Invalidate(ctx context.Context, dataSourceID int64, measure, frequency string) (int64, error) {
	patterns := []string{s.keys.Pattern(dataSourceID, measure, frequency)}
	if measure != "" {
		patterns = append(patterns, s.keys.Pattern(dataSourceID, cachekey.Wildcard, ""))
	}
	if frequency != "" {
		patterns = append(patterns, s.keys.Pattern(dataSourceID, "", cachekey.Wildcard))
	}

	var deleted int64
	seen := make(map[string]struct{}, len(patterns))
	for _, pattern := range patterns {
		if _, dup := seen[pattern]; dup {
			continue
		}
		seen[pattern] = struct{}{}
		n, err := s.store.DeletePattern(ctx, pattern)
		if err != nil {
			return deleted, fmt.Errorf("invalidate: delete %s: %w", pattern, err)
		}
		deleted += n
	}

	if err := s.pruneIndex(ctx, dataSourceID, measure, frequency); err != nil {
		return deleted, err
	}

	s.metrics.RecordInvalidation(dataSourceID, deleted)
	s.logger.Info("cache invalidated",
		slog.Int64("data_source", dataSourceID),
		slog.String("measure", measure),
		slog.String("frequency", frequency),
		slog.Int64("keys_deleted", deleted))
	return deleted, nil
}

func (s *Service) pruneIndex(ctx context.Context, dataSourceID int64, measure, frequency string) error {
	if measure == "" && frequency == "" {
		if err := s.index.Drop(ctx, dataSourceID); err != nil {
			return fmt.Errorf("invalidate: drop index: %w", err)
		}
		return nil
	}
	if measure != "" {
		if err := s.index.Remove(ctx, dataSourceID, index.Measures, measure); err != nil {
			return fmt.Errorf("invalidate: prune measures: %w", err)
		}
	}
	if frequency != "" {
		if err := s.index.Remove(ctx, dataSourceID, index.Frequencies, frequency); err != nil {
			return fmt.Errorf("invalidate: prune frequencies: %w", err)
		}
	}
	return nil
}
