// Package store is the key-value backend of the cache engine. It owns entry
// serialization, the size cap, and the only concurrency primitive the rest
// of the system uses: an atomic set-if-absent lock with expiry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/praxisbi/dscache/internal/rowset"
)

// ErrUnavailable reports that the backend could not serve the call. Callers
// treat it as a miss or no-op; it never fails a fetch.
var ErrUnavailable = errors.New("store: backend unavailable")

// Entry is one cached result set. Entries are written whole and replaced
// whole; nothing mutates rows in place. SizeBytes is derived from the
// serialized payload on each write and read, not persisted.
type Entry struct {
	Key       string        `json:"key"`
	Rows      rowset.RowSet `json:"rows"`
	CachedAt  time.Time     `json:"cachedAt"`
	RowCount  int           `json:"rowCount"`
	SizeBytes int64         `json:"-"`
}

// Store is the backend contract shared by the Redis and in-memory
// implementations. Every error a Store returns is an availability problem;
// "not found" outcomes are reported through the boolean results.
type Store interface {
	// Get returns the entry under key, or ok=false on miss.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set writes entry under key with ttl applied atomically. Entries whose
	// serialized size exceeds the configured cap are skipped (logged, nil).
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Delete removes exact keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeletePattern removes every key matching a glob pattern.
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	// Keys lists keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// ValueSize reports the serialized size of the value under key without
	// deserializing it, ok=false when the key is absent.
	ValueSize(ctx context.Context, key string) (int64, bool, error)

	// TryLock atomically claims key for ttl. False means another holder owns
	// it; the claim expires on its own even if Unlock is never called.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock releases key. Releasing an expired or absent lock is not an error.
	Unlock(ctx context.Context, key string) error

	// SetAdd adds members to the set under key.
	SetAdd(ctx context.Context, key string, members ...string) error
	// SetMembers lists the set under key.
	SetMembers(ctx context.Context, key string) ([]string, error)
	// SetCard reports the cardinality of the set under key.
	SetCard(ctx context.Context, key string) (int64, error)
	// SetRemove drops members from the set under key.
	SetRemove(ctx context.Context, key string, members ...string) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

func encodeEntry(entry Entry) ([]byte, error) {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	entry.RowCount = len(entry.Rows)
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("store: marshal entry: %w", err)
	}
	return payload, nil
}

func decodeEntry(payload []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("store: unmarshal entry: %w", err)
	}
	entry.SizeBytes = int64(len(payload))
	return entry, nil
}
