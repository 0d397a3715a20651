package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// breakerStore wraps a Store in a circuit breaker so a dead backend costs
// one fast ErrUnavailable instead of a connect timeout per call. Callers
// already treat every store error as a miss/no-op, so tripping the breaker
// only changes how quickly the engine degrades to direct fetches.
type breakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
}

// WithBreaker wraps inner in a circuit breaker that opens after five
// consecutive backend failures and probes again after 15 seconds.
func WithBreaker(inner Store, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:    "cache-backend",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache backend breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &breakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (s *breakerStore) execute(op func() (any, error)) (any, error) {
	out, err := s.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out, ErrUnavailable
	}
	return out, err
}

func (s *breakerStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	type result struct {
		entry Entry
		ok    bool
	}
	out, err := s.execute(func() (any, error) {
		entry, ok, err := s.inner.Get(ctx, key)
		return result{entry: entry, ok: ok}, err
	})
	if err != nil {
		return Entry{}, false, err
	}
	res := out.(result)
	return res.entry, res.ok, nil
}

func (s *breakerStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.inner.Set(ctx, key, entry, ttl)
	})
	return err
}

func (s *breakerStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.Delete(ctx, keys...)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func (s *breakerStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.DeletePattern(ctx, pattern)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func (s *breakerStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.Keys(ctx, pattern)
	})
	if err != nil {
		return nil, err
	}
	keys, _ := out.([]string)
	return keys, nil
}

func (s *breakerStore) ValueSize(ctx context.Context, key string) (int64, bool, error) {
	type result struct {
		size int64
		ok   bool
	}
	out, err := s.execute(func() (any, error) {
		size, ok, err := s.inner.ValueSize(ctx, key)
		return result{size: size, ok: ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	res := out.(result)
	return res.size, res.ok, nil
}

func (s *breakerStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.TryLock(ctx, key, ttl)
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func (s *breakerStore) Unlock(ctx context.Context, key string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.inner.Unlock(ctx, key)
	})
	return err
}

func (s *breakerStore) SetAdd(ctx context.Context, key string, members ...string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.inner.SetAdd(ctx, key, members...)
	})
	return err
}

func (s *breakerStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.SetMembers(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	members, _ := out.([]string)
	return members, nil
}

func (s *breakerStore) SetCard(ctx context.Context, key string) (int64, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.SetCard(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func (s *breakerStore) SetRemove(ctx context.Context, key string, members ...string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.inner.SetRemove(ctx, key, members...)
	})
	return err
}

func (s *breakerStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
