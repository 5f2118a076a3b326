package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the status endpoint.
type Summary struct {
	HTTP   httpSummary   `json:"http"`
	Admin  httpSummary   `json:"admin"`
	Ingest ingestSummary `json:"ingest"`
	Config configInfo    `json:"config"`
	DB     dbInfo        `json:"db"`
	Server serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
	RateLimited   float64 `json:"rateLimited,omitempty"`
}

type ingestSummary struct {
	Batches        float64 `json:"batches"`
	FailedBatches  float64 `json:"failedBatches"`
	FramesReceived float64 `json:"framesReceived"`
	FramesMerged   float64 `json:"framesMerged"`
	P50Duration    float64 `json:"p50Duration"`
	P95Duration    float64 `json:"p95Duration"`
}

type configInfo struct {
	Writes            float64 `json:"writes"`
	StaleLockRemovals float64 `json:"staleLockRemovals"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
	MaxConns      float64 `json:"maxConns"`
	EmptyAcquires float64 `json:"emptyAcquires"`
}

// Handler returns an http.HandlerFunc that serves a JSON summary of the
// live metrics.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summary()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summary gathers the registry and condenses it into a Summary.
func (m *Metrics) Summary() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	api := httpSummaryFor(fam, "api")
	api.RateLimited = counterValue(fam["ratekeeper_rate_limited_total"])

	return &Summary{
		HTTP:  api,
		Admin: httpSummaryFor(fam, "admin"),
		Ingest: ingestSummary{
			Batches:        sumCounter(fam["ratekeeper_ingest_batches_total"]),
			FailedBatches:  counterWithLabel(fam["ratekeeper_ingest_batches_total"], "status", "error"),
			FramesReceived: counterValue(fam["ratekeeper_frames_received_total"]),
			FramesMerged:   counterValue(fam["ratekeeper_frames_merged_total"]),
			P50Duration:    histogramPercentile(fam["ratekeeper_ingest_duration_seconds"], 0.50),
			P95Duration:    histogramPercentile(fam["ratekeeper_ingest_duration_seconds"], 0.95),
		},
		Config: configInfo{
			Writes:            sumCounter(fam["ratekeeper_config_writes_total"]),
			StaleLockRemovals: counterValue(fam["ratekeeper_stale_lock_removals_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["ratekeeper_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["ratekeeper_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["ratekeeper_db_pool_acquired_conns"]),
			MaxConns:      gaugeValue(fam["ratekeeper_db_pool_max_conns"]),
			EmptyAcquires: counterValue(fam["ratekeeper_db_pool_empty_acquires_total"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["ratekeeper_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["ratekeeper_server_start_time_seconds"]),
		},
	}, nil
}

func httpSummaryFor(fam map[string]*dto.MetricFamily, kind string) httpSummary {
	requests := fam["ratekeeper_http_requests_total"]
	durations := fam["ratekeeper_http_request_duration_seconds"]
	return httpSummary{
		TotalRequests: sumCounterWithLabel(requests, "kind", kind),
		ErrorRate:     computeErrorRateWithLabel(requests, "kind", kind),
		P50Latency:    histogramPercentileWithLabel(durations, 0.50, "kind", kind),
		P95Latency:    histogramPercentileWithLabel(durations, 0.95, "kind", kind),
		P99Latency:    histogramPercentileWithLabel(durations, 0.99, "kind", kind),
	}
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func computeErrorRateWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if !hasLabel(m, labelName, labelValue) || m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

func histogramPercentileWithLabel(f *dto.MetricFamily, q float64, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		if labelName != "" && !hasLabel(m, labelName, labelValue) {
			continue
		}
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}

// histogramPercentile computes a percentile over every series of the family
// using linear interpolation within buckets.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	return histogramPercentileWithLabel(f, q, "", "")
}
