package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngest(t *testing.T) {
	m := New()

	m.ObserveIngest(10, 7, 0.02, "ok")
	m.ObserveIngest(5, 0, 0.01, "error")

	if got := testutil.ToFloat64(m.FramesReceivedTotal); got != 10 {
		t.Errorf("frames received = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.FramesMergedTotal); got != 7 {
		t.Errorf("frames merged = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.IngestBatchesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed batches = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.IngestDuration); got != 1 {
		t.Errorf("expected one duration histogram, got %d", got)
	}
}

func TestConfigCounters(t *testing.T) {
	m := New()
	m.IncConfigWrite("create")
	m.IncConfigWrite("create")
	m.IncConfigWrite("delete")
	m.IncStaleLockRemoved()

	if got := testutil.ToFloat64(m.ConfigWritesTotal.WithLabelValues("create")); got != 2 {
		t.Errorf("create writes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StaleLockRemovalsTotal); got != 1 {
		t.Errorf("stale lock removals = %v, want 1", got)
	}
}

func TestDBPoolCollector(t *testing.T) {
	c := NewDBPoolCollector(func() PoolStats {
		return PoolStats{Total: 10, Idle: 7, Acquired: 3, Max: 16, EmptyAcquires: 5, AcquireWait: 1500 * time.Millisecond}
	})

	expected := `
# HELP ratekeeper_db_pool_acquire_wait_seconds_total Cumulative time spent acquiring connections.
# TYPE ratekeeper_db_pool_acquire_wait_seconds_total counter
ratekeeper_db_pool_acquire_wait_seconds_total 1.5
# HELP ratekeeper_db_pool_acquired_conns Number of connections held by ingestion or queries.
# TYPE ratekeeper_db_pool_acquired_conns gauge
ratekeeper_db_pool_acquired_conns 3
# HELP ratekeeper_db_pool_empty_acquires_total Acquires that waited because the pool was exhausted.
# TYPE ratekeeper_db_pool_empty_acquires_total counter
ratekeeper_db_pool_empty_acquires_total 5
# HELP ratekeeper_db_pool_idle_conns Number of idle connections in the DB pool.
# TYPE ratekeeper_db_pool_idle_conns gauge
ratekeeper_db_pool_idle_conns 7
# HELP ratekeeper_db_pool_max_conns Configured maximum size of the DB pool.
# TYPE ratekeeper_db_pool_max_conns gauge
ratekeeper_db_pool_max_conns 16
# HELP ratekeeper_db_pool_total_conns Total number of connections in the DB pool.
# TYPE ratekeeper_db_pool_total_conns gauge
ratekeeper_db_pool_total_conns 10
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestSummaryHandler(t *testing.T) {
	m := New()
	m.RegisterDBPoolCollector(func() PoolStats {
		return PoolStats{Total: 4, Idle: 3, Acquired: 1, Max: 8, EmptyAcquires: 2}
	})
	m.ObserveHTTP("api", "GET", "/api/v1/namespaces", 200, 0.01, 0, 120)
	m.ObserveHTTP("api", "GET", "/api/v1/namespaces", 500, 0.02, 0, 40)
	m.ObserveHTTP("admin", "POST", "/api/v1/admin/frames", 200, 0.2, 2048, 30)
	m.ObserveIngest(3, 3, 0.1, "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if s.HTTP.TotalRequests != 2 || s.HTTP.ErrorRate != 0.5 {
		t.Errorf("unexpected api summary %+v", s.HTTP)
	}
	if s.Admin.TotalRequests != 1 || s.Admin.ErrorRate != 0 {
		t.Errorf("unexpected admin summary %+v", s.Admin)
	}
	if s.Ingest.Batches != 1 || s.Ingest.FramesMerged != 3 {
		t.Errorf("unexpected ingest summary %+v", s.Ingest)
	}
	if s.DB.TotalConns != 4 || s.DB.AcquiredConns != 1 || s.DB.MaxConns != 8 || s.DB.EmptyAcquires != 2 {
		t.Errorf("unexpected db summary %+v", s.DB)
	}
	if s.Server.StartTime == 0 {
		t.Error("expected server start time to be set")
	}
}

func TestCollectorHandler(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "rating_test_gauge", Help: "test"})
	g.Set(1.5)

	rec := httptest.NewRecorder()
	CollectorHandler(g).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "rating_test_gauge 1.5") {
		t.Errorf("expected gauge sample in body, got:\n%s", body)
	}
	if strings.Contains(body, "go_goroutines") {
		t.Error("runtime collectors should not be exposed")
	}
}

func TestHistogramPercentile_Empty(t *testing.T) {
	if got := histogramPercentile(nil, 0.5); got != 0 {
		t.Errorf("expected 0 for nil family, got %v", got)
	}
}
