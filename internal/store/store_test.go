package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/praxisbi/dscache/internal/rowset"
)

func sampleRows() rowset.RowSet {
	return rowset.RowSet{
		{"practice_id": int64(1), "value": 120.5, "period_start": "2026-01-01"},
		{"practice_id": int64(2), "value": 98.0, "period_start": "2026-02-01"},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemory(0, nil)
	ctx := context.Background()

	entry := Entry{Rows: sampleRows(), CachedAt: time.Now().UTC()}
	if err := s.Set(ctx, "dscache:ds:1:m:revenue:p:any:freq:monthly", entry, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.Get(ctx, "dscache:ds:1:m:revenue:p:any:freq:monthly")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.RowCount != 2 || len(got.Rows) != 2 {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.SizeBytes <= 0 {
		t.Fatalf("expected derived size, got %d", got.SizeBytes)
	}
	if v, ok := got.Rows[0].Int64("practice_id"); !ok || v != 1 {
		t.Fatalf("expected practice_id 1 after round trip, got %v", got.Rows[0]["practice_id"])
	}

	size, ok, err := s.ValueSize(ctx, got.Key)
	if err != nil || !ok {
		t.Fatalf("value size: ok=%v err=%v", ok, err)
	}
	if size != got.SizeBytes {
		t.Fatalf("value size %d != entry size %d", size, got.SizeBytes)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemory(0, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "k", Entry{Rows: sampleRows()}, 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected expiry, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreSizeCap(t *testing.T) {
	s := NewMemory(16, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "big", Entry{Rows: sampleRows()}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "big"); ok {
		t.Fatalf("expected oversized entry to be skipped")
	}
}

func TestMemoryStorePatternDelete(t *testing.T) {
	s := NewMemory(0, nil)
	ctx := context.Background()

	keys := []string{
		"dscache:ds:1:m:revenue:p:any:freq:monthly",
		"dscache:ds:1:m:revenue:p:any:freq:weekly",
		"dscache:ds:1:m:visits:p:any:freq:monthly",
	}
	for _, key := range keys {
		if err := s.Set(ctx, key, Entry{Rows: sampleRows()}, time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	n, err := s.DeletePattern(ctx, "dscache:ds:1:m:revenue:p:*:freq:*")
	if err != nil {
		t.Fatalf("delete pattern: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	remaining, err := s.Keys(ctx, "dscache:ds:1:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != keys[2] {
		t.Fatalf("unexpected remaining keys: %v", remaining)
	}
}

func TestMemoryStoreLock(t *testing.T) {
	s := NewMemory(0, nil)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "dscache:lock:warm:1", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.TryLock(ctx, "dscache:lock:warm:1", 50*time.Millisecond); ok {
		t.Fatalf("expected contention")
	}
	time.Sleep(60 * time.Millisecond)
	if ok, _ := s.TryLock(ctx, "dscache:lock:warm:1", 50*time.Millisecond); !ok {
		t.Fatalf("expected lock to be reacquirable after ttl")
	}
	if err := s.Unlock(ctx, "dscache:lock:warm:1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.Unlock(ctx, "dscache:lock:warm:1"); err != nil {
		t.Fatalf("unlock twice: %v", err)
	}
}

func TestMemoryStoreSets(t *testing.T) {
	s := NewMemory(0, nil)
	ctx := context.Background()

	if err := s.SetAdd(ctx, "dscache:ds:1:measures", "revenue", "visits"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if n, _ := s.SetCard(ctx, "dscache:ds:1:measures"); n != 2 {
		t.Fatalf("expected cardinality 2, got %d", n)
	}
	members, err := s.SetMembers(ctx, "dscache:ds:1:measures")
	if err != nil || len(members) != 2 {
		t.Fatalf("members: %v err=%v", members, err)
	}
	if err := s.SetRemove(ctx, "dscache:ds:1:measures", "visits"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	if n, _ := s.SetCard(ctx, "dscache:ds:1:measures"); n != 1 {
		t.Fatalf("expected cardinality 1, got %d", n)
	}
}

func newRedisStore(t *testing.T, maxEntryBytes int64) (Store, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	s, err := NewRedis(RedisConfig{Address: server.Addr()}, maxEntryBytes, nil)
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, server
}

func TestRedisStoreRoundTripAndExpiry(t *testing.T) {
	s, server := newRedisStore(t, 0)
	ctx := context.Background()

	entry := Entry{Rows: sampleRows(), CachedAt: time.Now().UTC()}
	if err := s.Set(ctx, "dscache:ds:1:m:revenue:p:any:freq:monthly", entry, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.Get(ctx, "dscache:ds:1:m:revenue:p:any:freq:monthly")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.RowCount != 2 || got.SizeBytes <= 0 {
		t.Fatalf("unexpected entry: %#v", got)
	}

	size, ok, err := s.ValueSize(ctx, got.Key)
	if err != nil || !ok || size != got.SizeBytes {
		t.Fatalf("value size: %d ok=%v err=%v", size, ok, err)
	}

	server.FastForward(2 * time.Minute)
	if _, ok, err := s.Get(ctx, got.Key); err != nil || ok {
		t.Fatalf("expected ttl expiry, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreSizeCap(t *testing.T) {
	s, _ := newRedisStore(t, 16)
	ctx := context.Background()

	if err := s.Set(ctx, "big", Entry{Rows: sampleRows()}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "big"); ok {
		t.Fatalf("expected oversized entry to be skipped")
	}
}

func TestRedisStorePatternDelete(t *testing.T) {
	s, _ := newRedisStore(t, 0)
	ctx := context.Background()

	keys := []string{
		"dscache:ds:1:m:revenue:p:any:freq:monthly",
		"dscache:ds:1:m:revenue:p:114:freq:monthly",
		"dscache:ds:1:m:visits:p:any:freq:monthly",
		"dscache:ds:2:m:revenue:p:any:freq:monthly",
	}
	for _, key := range keys {
		if err := s.Set(ctx, key, Entry{Rows: sampleRows()}, time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	n, err := s.DeletePattern(ctx, "dscache:ds:1:m:revenue:p:*:freq:*")
	if err != nil {
		t.Fatalf("delete pattern: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	remaining, err := s.Keys(ctx, "dscache:ds:1:m:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("unexpected remaining keys: %v", remaining)
	}
}

func TestRedisStoreLockMutualExclusionAndLiveness(t *testing.T) {
	s, server := newRedisStore(t, 0)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "dscache:lock:warm:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.TryLock(ctx, "dscache:lock:warm:1", time.Minute); ok {
		t.Fatalf("expected contention while lock held")
	}

	// Never released: expiry alone must make it acquirable again.
	server.FastForward(2 * time.Minute)
	if ok, _ := s.TryLock(ctx, "dscache:lock:warm:1", time.Minute); !ok {
		t.Fatalf("expected lock liveness after ttl")
	}

	if err := s.Unlock(ctx, "dscache:lock:warm:1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.Unlock(ctx, "dscache:lock:warm:1"); err != nil {
		t.Fatalf("unlock released lock: %v", err)
	}
}

func TestRedisStoreSets(t *testing.T) {
	s, _ := newRedisStore(t, 0)
	ctx := context.Background()

	if err := s.SetAdd(ctx, "dscache:ds:1:measures", "revenue", "visits"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if n, _ := s.SetCard(ctx, "dscache:ds:1:measures"); n != 2 {
		t.Fatalf("expected cardinality 2, got %d", n)
	}
	if err := s.SetRemove(ctx, "dscache:ds:1:measures", "revenue", "visits"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	if n, _ := s.SetCard(ctx, "dscache:ds:1:measures"); n != 0 {
		t.Fatalf("expected empty set, got %d", n)
	}
}
