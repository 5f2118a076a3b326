package api

import (
	"net/http"
	"time"

	"github.com/alecgard/ratekeeper/internal/frames"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/tenant"
)

// framesHandler groups ingestion and frame administration handlers.
type framesHandler struct {
	store    *frames.Store
	resolver *tenant.Resolver
	maxBatch int
}

func newFramesHandler(store *frames.Store, resolver *tenant.Resolver, maxBatch int) *framesHandler {
	return &framesHandler{store: store, resolver: resolver, maxBatch: maxBatch}
}

type oldestFrame struct {
	FrameEnd time.Time `json:"frame_end"`
}

// Ingest handles POST /api/v1/admin/frames.
func (h *framesHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var batch frames.Batch
	if err := readJSONLimit(r, &batch, maxIngestBodySize); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	in, err := batch.Decode(h.maxBatch)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res, err := h.store.Ingest(r.Context(), in)
	if err != nil {
		writeStoreError(w, err, "metric", in.Metric, "report", in.ReportName)
		return
	}
	auditLog(r, "ingest", "frames", in.Metric, "report", in.ReportName,
		"received", res.Received, "merged", res.Merged)
	writeJSON(w, http.StatusOK, resultsEnvelope{Total: 1, Results: res})
}

type deleteFramesRequest struct {
	Metric string `json:"metric"`
}

// Delete handles POST /api/v1/admin/frames/delete. The total is the number
// of cleared watermarks and the results the number of deleted frames.
func (h *framesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteFramesRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := rating.ValidateParam("metric", req.Metric); err != nil {
		writeStoreError(w, err)
		return
	}

	res, err := h.store.DeleteByMetric(r.Context(), req.Metric)
	if err != nil {
		writeStoreError(w, err, "metric", req.Metric)
		return
	}
	auditLog(r, "delete", "frames", req.Metric, "frames", res.Frames, "statuses", res.Statuses)
	writeJSON(w, http.StatusOK, resultsEnvelope{Total: int(res.Statuses), Results: res.Frames})
}

// Status handles GET /api/v1/admin/frames/status, optionally filtered by
// metric or report.
func (h *framesHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metric, report := q.Get("metric"), q.Get("report")

	var (
		rows []frames.Status
		err  error
	)
	switch {
	case metric != "":
		rows, err = h.store.StatusByMetric(r.Context(), metric)
	case report != "":
		rows, err = h.store.StatusByReport(r.Context(), report)
	default:
		rows, err = h.store.Statuses(r.Context())
	}
	if err != nil {
		writeStoreError(w, err, "metric", metric, "report", report)
		return
	}
	writeResults(w, rows)
}

// Oldest handles GET /api/v1/frames/oldest.
func (h *framesHandler) Oldest(w http.ResponseWriter, r *http.Request) {
	scope, err := resolveScope(r, h.resolver)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	oldest, err := h.store.Oldest(r.Context(), scope)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	rows := []oldestFrame{}
	if oldest != nil {
		rows = append(rows, oldestFrame{FrameEnd: *oldest})
	}
	writeResults(w, rows)
}
