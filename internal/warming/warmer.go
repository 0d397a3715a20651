// Package warming repopulates stale cache entries ahead of demand. A
// backend lock keeps concurrent processes from warming the same data source
// twice, a per-source cooldown bounds how often bursty staleness triggers
// can start a pass, and a fixed worker pool bounds upstream concurrency.
package warming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/praxisbi/dscache/internal/cachekey"
	"github.com/praxisbi/dscache/internal/engine"
	"github.com/praxisbi/dscache/internal/metrics"
	"github.com/praxisbi/dscache/internal/store"
)

// Outcome classifies one warming pass. Skips are normal operation.
type Outcome string

const (
	// OutcomeWarmed means the pass ran and wrote entries.
	OutcomeWarmed Outcome = "warmed"
	// OutcomeSkippedLock means another process holds the warming lock.
	OutcomeSkippedLock Outcome = "skipped_lock"
	// OutcomeSkippedCooldown means the per-source cooldown has not elapsed.
	OutcomeSkippedCooldown Outcome = "skipped_cooldown"
	// OutcomeSkippedFresh means no entry was stale enough to refresh.
	OutcomeSkippedFresh Outcome = "skipped_fresh"
	// OutcomeError means the pass ran but wrote nothing.
	OutcomeError Outcome = "error"
)

// Result reports what one warming pass did.
type Result struct {
	Outcome        Outcome
	EntriesWritten int
	Duration       time.Duration
}

// Skipped reports whether the pass did not run.
func (r Result) Skipped() bool {
	return r.Outcome == OutcomeSkippedLock || r.Outcome == OutcomeSkippedCooldown || r.Outcome == OutcomeSkippedFresh
}

// WarmAllResult aggregates a full sweep.
type WarmAllResult struct {
	SourcesWarmed int
	TotalEntries  int
}

// MetadataProvider is the external collaborator that knows which parameter
// combinations are worth keeping warm.
type MetadataProvider interface {
	ListDataSources(ctx context.Context) ([]int64, error)
	Combinations(ctx context.Context, dataSourceID int64) ([]cachekey.Params, error)
}

// Config wires the warming service.
type Config struct {
	Engine   *engine.Service
	Store    store.Store
	Keys     cachekey.Builder
	Metadata MetadataProvider
	// LockTTL must exceed the worst-case pass duration; expiry is the
	// deadlock safety net when a holder crashes before releasing.
	LockTTL time.Duration
	// Cooldown is the minimum interval between warm attempts per source.
	Cooldown time.Duration
	// StaleAfter is the entry age beyond which a refresh is due.
	StaleAfter time.Duration
	// Workers bounds concurrent upstream fetches during a pass.
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

const (
	defaultLockTTL    = 10 * time.Minute
	defaultCooldown   = 15 * time.Minute
	defaultStaleAfter = 4 * time.Hour
	defaultWorkers    = 4
)

// Service is the CacheWarmingService.
type Service struct {
	engine     *engine.Service
	store      store.Store
	keys       cachekey.Builder
	metadata   MetadataProvider
	lockTTL    time.Duration
	cooldown   time.Duration
	staleAfter time.Duration
	workers    int
	logger     *slog.Logger
	metrics    *metrics.Recorder

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// New constructs the warming service from cfg. Engine, Store, and Metadata
// are required.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Service{
		engine:     cfg.Engine,
		store:      cfg.Store,
		keys:       cfg.Keys,
		metadata:   cfg.Metadata,
		lockTTL:    cfg.LockTTL,
		cooldown:   cfg.Cooldown,
		staleAfter: cfg.StaleAfter,
		workers:    cfg.Workers,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// WarmIfStale refreshes the stale parameter combinations of one data
// source. Lock contention and cooldown are normal skip outcomes, never
// errors. Entries written before a mid-pass failure remain valid; the next
// staleness check picks up the remainder.
func (s *Service) WarmIfStale(ctx context.Context, dataSourceID int64) (Result, error) {
	started := time.Now()

	if !s.limiter(dataSourceID).Allow() {
		result := Result{Outcome: OutcomeSkippedCooldown, Duration: time.Since(started)}
		s.metrics.ObserveWarming(dataSourceID, metrics.WarmingSkippedCooldown, 0, result.Duration)
		return result, nil
	}

	combos, err := s.metadata.Combinations(ctx, dataSourceID)
	if err != nil {
		return Result{}, fmt.Errorf("warming: enumerate combinations: %w", err)
	}

	stale := s.staleCombos(ctx, combos)
	if len(stale) == 0 {
		result := Result{Outcome: OutcomeSkippedFresh, Duration: time.Since(started)}
		s.metrics.ObserveWarming(dataSourceID, metrics.WarmingSkippedFresh, 0, result.Duration)
		return result, nil
	}

	lockKey := s.keys.LockKey(dataSourceID)
	locked, err := s.store.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil || !locked {
		if err != nil {
			s.logger.Warn("warming lock unavailable", slog.Int64("data_source", dataSourceID), slog.Any("error", err))
		}
		result := Result{Outcome: OutcomeSkippedLock, Duration: time.Since(started)}
		s.metrics.ObserveWarming(dataSourceID, metrics.WarmingSkippedLock, 0, result.Duration)
		return result, nil
	}
	// Release must run even when a refresh panics; the lock TTL alone
	// guarantees progress if this process dies before the deferred call.
	defer func() {
		if err := s.store.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Warn("warming unlock failed, ttl will release",
				slog.Int64("data_source", dataSourceID), slog.Any("error", err))
		}
	}()

	written, failed := s.refreshAll(ctx, stale)

	result := Result{Outcome: OutcomeWarmed, EntriesWritten: written, Duration: time.Since(started)}
	outcome := metrics.WarmingWarmed
	if written == 0 && failed > 0 {
		result.Outcome = OutcomeError
		outcome = metrics.WarmingError
	}
	s.metrics.ObserveWarming(dataSourceID, outcome, written, result.Duration)
	s.logger.Info("warming pass finished",
		slog.Int64("data_source", dataSourceID),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("entries_written", written),
		slog.Int("failed", failed),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// WarmAll sweeps every known data source. Per-source failures are logged
// and skipped so one bad source cannot starve the rest.
func (s *Service) WarmAll(ctx context.Context) (WarmAllResult, error) {
	ids, err := s.metadata.ListDataSources(ctx)
	if err != nil {
		return WarmAllResult{}, fmt.Errorf("warming: list data sources: %w", err)
	}
	var total WarmAllResult
	for _, id := range ids {
		result, err := s.WarmIfStale(ctx, id)
		if err != nil {
			s.logger.Warn("warming pass failed", slog.Int64("data_source", id), slog.Any("error", err))
			continue
		}
		if result.Outcome == OutcomeWarmed {
			total.SourcesWarmed++
			total.TotalEntries += result.EntriesWritten
		}
	}
	return total, nil
}

// TriggerWarm schedules a warming pass in the background and returns
// immediately. The goroutine carries its own error boundary; the caller's
// only contract is "accepted for processing".
func (s *Service) TriggerWarm(dataSourceID int64) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background warming panicked",
					slog.Int64("data_source", dataSourceID), slog.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
		defer cancel()
		if _, err := s.WarmIfStale(ctx, dataSourceID); err != nil {
			s.logger.Warn("background warming failed",
				slog.Int64("data_source", dataSourceID), slog.Any("error", err))
		}
	}()
}

// staleCombos keeps the combinations whose entry is missing or older than
// the staleness threshold. Lookup errors count as stale: an unreadable
// entry needs a refetch either way.
func (s *Service) staleCombos(ctx context.Context, combos []cachekey.Params) []cachekey.Params {
	stale := make([]cachekey.Params, 0, len(combos))
	for _, combo := range combos {
		entry, ok, err := s.store.Get(ctx, s.keys.Build(combo))
		if err == nil && ok && time.Since(entry.CachedAt) <= s.staleAfter {
			continue
		}
		stale = append(stale, combo)
	}
	return stale
}

func (s *Service) refreshAll(ctx context.Context, combos []cachekey.Params) (written, failed int) {
	jobs := make(chan cachekey.Params)
	var (
		wg       sync.WaitGroup
		writtenN atomic.Int64
		failedN  atomic.Int64
	)

	workers := min(s.workers, len(combos))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for combo := range jobs {
				if _, err := s.engine.Refresh(ctx, combo); err != nil {
					failedN.Add(1)
					s.logger.Warn("warming refresh failed",
						slog.Int64("data_source", combo.DataSourceID),
						slog.String("measure", combo.Measure),
						slog.String("frequency", combo.Frequency),
						slog.Any("error", err))
					continue
				}
				writtenN.Add(1)
			}
		}()
	}

feed:
	for _, combo := range combos {
		select {
		case jobs <- combo:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return int(writtenN.Load()), int(failedN.Load())
}

func (s *Service) limiter(dataSourceID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiters == nil {
		s.limiters = make(map[int64]*rate.Limiter)
	}
	limiter, ok := s.limiters[dataSourceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.cooldown), 1)
		s.limiters[dataSourceID] = limiter
	}
	return limiter
}
