package store

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"
)

type memoryValue struct {
	payload   []byte
	expiresAt time.Time
}

type memoryStore struct {
	maxEntryBytes int64
	logger        *slog.Logger

	mu     sync.Mutex
	values map[string]memoryValue
	sets   map[string]map[string]struct{}
	locks  map[string]time.Time
}

// NewMemory returns an in-process Store for tests and single-node
// development. Entries are serialized exactly like the Redis backend so
// both paths see the same value shapes and the same size cap.
func NewMemory(maxEntryBytes int64, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &memoryStore{
		maxEntryBytes: maxEntryBytes,
		logger:        logger,
		values:        make(map[string]memoryValue),
		sets:          make(map[string]map[string]struct{}),
		locks:         make(map[string]time.Time),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(value.expiresAt) {
		delete(s.values, key)
		return Entry{}, false, nil
	}
	entry, err := decodeEntry(value.payload)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	entry.Key = key
	payload, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if s.maxEntryBytes > 0 && int64(len(payload)) > s.maxEntryBytes {
		s.logger.Warn("cache entry exceeds size cap, not cached",
			slog.String("key", key),
			slog.Int("size_bytes", len(payload)),
			slog.Int64("max_bytes", s.maxEntryBytes))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{payload: payload, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			n++
			continue
		}
		if _, ok := s.sets[key]; ok {
			delete(s.sets, key)
			n++
			continue
		}
		if _, ok := s.locks[key]; ok {
			delete(s.locks, key)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return s.Delete(ctx, keys...)
}

func (s *memoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []string
	for key, value := range s.values {
		if now.After(value.expiresAt) {
			delete(s.values, key)
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	for key := range s.sets {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) ValueSize(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok || time.Now().After(value.expiresAt) {
		return 0, false, nil
	}
	return int64(len(value.payload)), true, nil
}

func (s *memoryStore) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, held := s.locks[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	s.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *memoryStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *memoryStore) SetAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (s *memoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (s *memoryStore) SetCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *memoryStore) SetRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
