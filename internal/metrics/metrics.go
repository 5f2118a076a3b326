package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the rating API.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Ingestion metrics.
	IngestBatchesTotal  *prometheus.CounterVec
	FramesReceivedTotal prometheus.Counter
	FramesMergedTotal   prometheus.Counter
	IngestDuration      prometheus.Histogram

	// Configuration store metrics.
	ConfigWritesTotal      *prometheus.CounterVec
	StaleLockRemovalsTotal prometheus.Counter

	// Query throttling.
	RateLimitedTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratekeeper_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"kind", "method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratekeeper_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "method", "path_pattern"}),

		HTTPRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratekeeper_http_request_size_bytes",
			Help:    "HTTP request size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratekeeper_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		IngestBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratekeeper_ingest_batches_total",
			Help: "Total number of ingestion batches by outcome.",
		}, []string{"status"}),

		FramesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekeeper_frames_received_total",
			Help: "Total number of rated frames received for ingestion.",
		}),

		FramesMergedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekeeper_frames_merged_total",
			Help: "Total number of rated frames newly merged into the fact table.",
		}),

		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratekeeper_ingest_duration_seconds",
			Help:    "Duration of ingestion transactions in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		ConfigWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratekeeper_config_writes_total",
			Help: "Total number of rating configuration writes by operation.",
		}, []string{"op"}),

		StaleLockRemovalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekeeper_stale_lock_removals_total",
			Help: "Total number of stale configuration locks forcibly removed.",
		}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekeeper_rate_limited_total",
			Help: "Total number of query requests rejected by the per-caller rate limit.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratekeeper_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.IngestBatchesTotal,
		m.FramesReceivedTotal,
		m.FramesMergedTotal,
		m.IngestDuration,
		m.ConfigWritesTotal,
		m.StaleLockRemovalsTotal,
		m.RateLimitedTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveIngest records the outcome of one ingestion batch.
func (m *Metrics) ObserveIngest(frames int, merged int64, seconds float64, status string) {
	m.IngestBatchesTotal.WithLabelValues(status).Inc()
	m.IngestDuration.Observe(seconds)
	if status != "ok" {
		return
	}
	m.FramesReceivedTotal.Add(float64(frames))
	m.FramesMergedTotal.Add(float64(merged))
}

// IncConfigWrite increments the configuration write counter for op.
func (m *Metrics) IncConfigWrite(op string) {
	m.ConfigWritesTotal.WithLabelValues(op).Inc()
}

// IncStaleLockRemoved increments the stale lock removal counter.
func (m *Metrics) IncStaleLockRemoved() {
	m.StaleLockRemovalsTotal.Inc()
}

// IncRateLimited increments the rejected query counter.
func (m *Metrics) IncRateLimited() {
	m.RateLimitedTotal.Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(kind, method, pattern string, status int, seconds float64, reqBytes, respBytes int64) {
	m.HTTPRequestsTotal.WithLabelValues(kind, method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(kind, method, pattern).Observe(seconds)
	if reqBytes > 0 {
		m.HTTPRequestSize.WithLabelValues(kind, method, pattern).Observe(float64(reqBytes))
	}
	m.HTTPResponseSize.WithLabelValues(kind, method, pattern).Observe(float64(respBytes))
}
