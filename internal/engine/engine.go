// Package engine orchestrates the data source cache: hierarchical key
// lookup, miss handling against the upstream query layer, and the
// post-fetch filter pipeline. Cached entries are shared across callers and
// carry no caller identity, so RBAC filtering runs on every path, hit or
// miss, before a single row leaves this package.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxisbi/dscache/internal/cachekey"
	"github.com/praxisbi/dscache/internal/index"
	"github.com/praxisbi/dscache/internal/memfilter"
	"github.com/praxisbi/dscache/internal/metrics"
	"github.com/praxisbi/dscache/internal/rbac"
	"github.com/praxisbi/dscache/internal/rowset"
	"github.com/praxisbi/dscache/internal/store"
)

// ErrNotFound reports an unknown data source id.
var ErrNotFound = errors.New("engine: data source not found")

// ErrUpstream reports a failed upstream query. It is surfaced, never
// retried here: retries during an outage only amplify load.
var ErrUpstream = errors.New("engine: upstream query failed")

// QueryExecutor is the external query layer. It receives only cacheable
// dimensions — no caller identity, date range, or field filters — and must
// not apply RBAC itself.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, dataSourceID int64, measure, frequency string) (rowset.RowSet, error)
}

// SchemaProvider is the external schema/metadata collaborator. ok=false
// means the data source does not exist.
type SchemaProvider interface {
	Schema(ctx context.Context, dataSourceID int64) (rowset.Schema, bool, error)
}

// FetchResult is what chart handlers receive: the filtered rows plus enough
// metadata to reason about cache behavior.
type FetchResult struct {
	Rows             rowset.RowSet
	CacheHit         bool
	Level            int // fallback depth that hit; -1 when served upstream
	RowsBeforeFilter int
	RowsAfterFilter  int
}

// Config wires the engine's collaborators.
type Config struct {
	Store    store.Store
	Index    *index.Index
	Keys     cachekey.Builder
	RBAC     *rbac.Service
	Schemas  SchemaProvider
	Executor QueryExecutor
	TTL      time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// DefaultTTL matches the 1-2 updates/day cadence of the analytics warehouse.
const DefaultTTL = 48 * time.Hour

// Service is the DataSourceCacheService.
type Service struct {
	store    store.Store
	index    *index.Index
	keys     cachekey.Builder
	rbac     *rbac.Service
	schemas  SchemaProvider
	executor QueryExecutor
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New constructs the engine from cfg. Store, RBAC, Schemas, and Executor
// are required.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:    cfg.Store,
		index:    cfg.Index,
		keys:     cfg.Keys,
		rbac:     cfg.RBAC,
		schemas:  cfg.Schemas,
		executor: cfg.Executor,
		ttl:      ttl,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// TTL reports the configured entry lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Fetch resolves rows for params on behalf of permCtx.
//
// Cache lookup walks the candidate keys most-specific first; the first hit
// wins and its fallback level is recorded. On a total miss (or bypass) the
// upstream query runs with cacheable dimensions only, the result is indexed
// and stored under the most-specific key, and — hit or miss — the raw rows
// pass through RBAC, then the date range, then the advanced filters.
//
// Store failures degrade to a direct fetch and never fail the call. An
// unknown data source returns ErrNotFound, an upstream failure ErrUpstream,
// and a disallowed filter field memfilter.ErrInvalidFilterField.
func (s *Service) Fetch(ctx context.Context, params cachekey.Params, permCtx rowset.PermissionContext, filterSpec rowset.FilterSpec, bypassCache bool) (FetchResult, error) {
	started := time.Now()

	schema, ok, err := s.schemas.Schema(ctx, params.DataSourceID)
	if err != nil {
		return FetchResult{}, fmt.Errorf("engine: schema lookup: %w", err)
	}
	if !ok {
		return FetchResult{}, fmt.Errorf("%w: id %d", ErrNotFound, params.DataSourceID)
	}

	raw, level := s.lookup(ctx, params, bypassCache)
	hit := level >= 0

	if !hit {
		raw, err = s.fetchAndStore(ctx, params)
		if err != nil {
			s.metrics.ObserveFetch(params.DataSourceID, metrics.FetchError, -1, time.Since(started))
			return FetchResult{}, err
		}
	}

	// Security boundary: RBAC runs on every path, including cache hits.
	filtered := s.rbac.Filter(ctx, raw, permCtx, schema)
	filtered = memfilter.ApplyDateRange(filtered, schema.DateField, filterSpec.DateRange)
	filtered, err = memfilter.ApplyAdvancedFilters(filtered, filterSpec.AdvancedFilters, schema)
	if err != nil {
		return FetchResult{}, err
	}

	outcome := metrics.FetchMiss
	switch {
	case hit:
		outcome = metrics.FetchHit
	case bypassCache:
		outcome = metrics.FetchBypass
	}
	s.metrics.ObserveFetch(params.DataSourceID, outcome, level, time.Since(started))

	return FetchResult{
		Rows:             filtered,
		CacheHit:         hit,
		Level:            level,
		RowsBeforeFilter: len(raw),
		RowsAfterFilter:  len(filtered),
	}, nil
}

// Refresh unconditionally executes the upstream query for params and stores
// the result, bypassing any cached entry. It is the fetch-and-store half of
// Fetch, shared with the warming service. Returns the row count written.
func (s *Service) Refresh(ctx context.Context, params cachekey.Params) (int, error) {
	rows, err := s.fetchAndStore(ctx, params)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// lookup walks the candidate keys and returns the first cached rows plus
// the fallback depth that produced them, or level -1 on a total miss.
// Backend errors are logged and treated as misses.
func (s *Service) lookup(ctx context.Context, params cachekey.Params, bypassCache bool) (rowset.RowSet, int) {
	if bypassCache {
		return nil, -1
	}
	for i, key := range s.keys.Candidates(params) {
		getStart := time.Now()
		entry, ok, err := s.store.Get(ctx, key)
		if err != nil {
			s.metrics.ObserveStoreOperation(metrics.StoreOperationGet, metrics.StoreResultError, time.Since(getStart))
			if !errors.Is(err, store.ErrUnavailable) {
				s.logger.Warn("cache lookup failed, treating as miss",
					slog.String("key", key), slog.Any("error", err))
			}
			continue
		}
		s.metrics.ObserveStoreOperation(metrics.StoreOperationGet, metrics.StoreResultOK, time.Since(getStart))
		if ok {
			return entry.Rows, i
		}
	}
	return nil, -1
}

func (s *Service) fetchAndStore(ctx context.Context, params cachekey.Params) (rowset.RowSet, error) {
	rows, err := s.executor.ExecuteQuery(ctx, params.DataSourceID, params.Measure, params.Frequency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// Index membership is registered before the entry write so no reader
	// can observe an entry whose dimensions are missing from the index.
	if err := s.index.Register(ctx, params.DataSourceID, params.Measure, params.PracticeHint, params.Frequency); err != nil {
		s.logger.Warn("index registration failed", slog.Int64("data_source", params.DataSourceID), slog.Any("error", err))
	}

	key := s.keys.Build(params)
	setStart := time.Now()
	entry := store.Entry{Rows: rows, CachedAt: time.Now().UTC()}
	if err := s.store.Set(ctx, key, entry, s.ttl); err != nil {
		s.metrics.ObserveStoreOperation(metrics.StoreOperationSet, metrics.StoreResultError, time.Since(setStart))
		if !errors.Is(err, store.ErrUnavailable) {
			s.logger.Warn("cache store failed, serving uncached result",
				slog.String("key", key), slog.Any("error", err))
		}
		return rows, nil
	}
	s.metrics.ObserveStoreOperation(metrics.StoreOperationSet, metrics.StoreResultOK, time.Since(setStart))
	return rows, nil
}
