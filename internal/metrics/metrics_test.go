package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveFetch(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch(7, FetchHit, 1, 250*time.Millisecond)

	families := gather(t, rec, "dscache_fetch_requests_total", "dscache_fetch_request_duration_seconds")

	counter := findMetric(t, families["dscache_fetch_requests_total"], map[string]string{
		"data_source": "7",
		"outcome":     "hit",
		"level":       "1",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for fetch requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["dscache_fetch_request_duration_seconds"], map[string]string{
		"data_source": "7",
		"outcome":     "hit",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for fetch latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveFetchMissLevel(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch(7, FetchMiss, -1, 10*time.Millisecond)

	families := gather(t, rec, "dscache_fetch_requests_total")
	counter := findMetric(t, families["dscache_fetch_requests_total"], map[string]string{
		"data_source": "7",
		"outcome":     "miss",
		"level":       "none",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected miss counter 1, got %v", got)
	}
}

func TestRecorderObserveStoreOperation(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveStoreOperation(StoreOperationGet, StoreResultOK, time.Millisecond)
	rec.ObserveStoreOperation(StoreOperationSet, StoreResultError, time.Millisecond)

	families := gather(t, rec, "dscache_store_operations_total")
	getMetric := findMetric(t, families["dscache_store_operations_total"], map[string]string{
		"operation": "get",
		"result":    "ok",
	})
	if got := getMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected get counter 1, got %v", got)
	}
	setMetric := findMetric(t, families["dscache_store_operations_total"], map[string]string{
		"operation": "set",
		"result":    "error",
	})
	if got := setMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected set counter 1, got %v", got)
	}
}

func TestRecorderObserveWarming(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveWarming(3, WarmingWarmed, 12, 2*time.Second)
	rec.ObserveWarming(3, WarmingSkippedLock, 0, 0)

	families := gather(t, rec, "dscache_warming_passes_total", "dscache_warming_entries_written_total")

	warmed := findMetric(t, families["dscache_warming_passes_total"], map[string]string{
		"data_source": "3",
		"outcome":     "warmed",
	})
	if got := warmed.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected warmed counter 1, got %v", got)
	}
	skipped := findMetric(t, families["dscache_warming_passes_total"], map[string]string{
		"data_source": "3",
		"outcome":     "skipped_lock",
	})
	if got := skipped.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected skipped counter 1, got %v", got)
	}
	entries := findMetric(t, families["dscache_warming_entries_written_total"], map[string]string{
		"data_source": "3",
	})
	if got := entries.GetCounter().GetValue(); got != 12 {
		t.Fatalf("expected 12 entries written, got %v", got)
	}
}

func TestRecorderFailClosedAndInvalidation(t *testing.T) {
	rec := NewRecorder(nil)
	rec.RecordFailClosed("organization")
	rec.RecordInvalidation(9, 4)
	rec.RecordInvalidation(9, 0)

	families := gather(t, rec, "dscache_rbac_fail_closed_total", "dscache_invalidation_keys_deleted_total")

	failClosed := findMetric(t, families["dscache_rbac_fail_closed_total"], map[string]string{"scope": "organization"})
	if got := failClosed.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected fail-closed counter 1, got %v", got)
	}
	invalidated := findMetric(t, families["dscache_invalidation_keys_deleted_total"], map[string]string{"data_source": "9"})
	if got := invalidated.GetCounter().GetValue(); got != 4 {
		t.Fatalf("expected 4 invalidated keys, got %v", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
