package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/go-chi/chi/v5"
)

// ratingRulesHandler groups the versioned configuration handlers.
type ratingRulesHandler struct {
	store  *ratingconfig.Store
	active ratingconfig.ActiveSource
}

func newRatingRulesHandler(store *ratingconfig.Store, active ratingconfig.ActiveSource) *ratingRulesHandler {
	return &ratingRulesHandler{store: store, active: active}
}

type configurationRequest struct {
	Name      string          `json:"name"`
	Metrics   any             `json:"metrics"`
	Rules     any             `json:"rules"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type validateResponse struct {
	Valid   bool                              `json:"valid"`
	Metrics map[string]ratingconfig.MetricDef `json:"metrics"`
	Rules   []ratingconfig.RuleGroup          `json:"rules"`
}

// List handles GET /api/v1/ratingrules: every version with its validity.
func (h *ratingRulesHandler) List(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.All(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeResults(w, versions)
}

// ListVersions handles GET /api/v1/ratingrules/list.
func (h *ratingRulesHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeResults(w, versions)
}

// Active handles GET /api/v1/ratingrules/active. Without a timestamp query
// parameter it returns the configuration in force now.
func (h *ratingRulesHandler) Active(w http.ResponseWriter, r *http.Request) {
	var (
		v   *ratingconfig.Version
		err error
	)
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		var at int64
		if at, err = ratingconfig.ParseTimestamp(raw); err == nil {
			v, err = h.store.ResolveActive(r.Context(), at)
		}
	} else {
		v, err = h.active.Active(r.Context())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeResults(w, []*ratingconfig.Version{v})
}

// Get handles GET /api/v1/ratingrules/{timestamp}.
func (h *ratingRulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ts, err := ratingconfig.ParseTimestamp(chi.URLParam(r, "timestamp"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	cfg, err := h.store.Get(r.Context(), ts)
	if err != nil {
		writeStoreError(w, err, "version", ts)
		return
	}
	writeResults(w, []*ratingconfig.Configuration{cfg})
}

// Validate handles POST /api/v1/ratingrules/validate. It checks documents
// without writing them.
func (h *ratingRulesHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req configurationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	metrics, rules, err := ratingconfig.ParseDocuments(req.Metrics, req.Rules)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Metrics: metrics, Rules: rules})
}

// Create handles POST /api/v1/admin/ratingrules.
func (h *ratingRulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req configurationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	ts, err := requestTimestamp(req.Timestamp)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics, rules, err := ratingconfig.ParseDocuments(req.Metrics, req.Rules)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	cfg := ratingconfig.Configuration{Timestamp: ts, Metrics: metrics, Rules: rules}
	if err := h.store.Create(r.Context(), cfg); err != nil {
		writeStoreError(w, err, "version", ts)
		return
	}
	auditLog(r, "create", "ratingrules", ratingconfig.FormatTimestamp(ts))
	writeJSON(w, http.StatusCreated, resultsEnvelope{Total: 1, Results: []ratingconfig.Configuration{cfg}})
}

// Update handles PUT /api/v1/admin/ratingrules/{timestamp}. Only the
// documents present in the body are replaced.
func (h *ratingRulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	ts, err := ratingconfig.ParseTimestamp(chi.URLParam(r, "timestamp"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req configurationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	var patch ratingconfig.Patch
	if req.Metrics != nil {
		if patch.Metrics, err = ratingconfig.ParseMetrics(req.Metrics); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.Rules != nil {
		if patch.Rules, err = ratingconfig.ParseRules(req.Rules); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	if err := h.store.Update(r.Context(), ts, patch); err != nil {
		writeStoreError(w, err, "version", ts)
		return
	}
	auditLog(r, "update", "ratingrules", ratingconfig.FormatTimestamp(ts),
		"metrics", patch.Metrics != nil, "rules", patch.Rules != nil)

	cfg, err := h.store.Get(r.Context(), ts)
	if err != nil {
		writeStoreError(w, err, "version", ts)
		return
	}
	writeResults(w, []*ratingconfig.Configuration{cfg})
}

// Delete handles DELETE /api/v1/admin/ratingrules/{timestamp}.
func (h *ratingRulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ts, err := ratingconfig.ParseTimestamp(chi.URLParam(r, "timestamp"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), ts); err != nil {
		writeStoreError(w, err, "version", ts)
		return
	}
	auditLog(r, "delete", "ratingrules", ratingconfig.FormatTimestamp(ts))
	w.WriteHeader(http.StatusNoContent)
}

// requestTimestamp accepts the timestamp of a write either as a string in
// the configuration layout or as epoch seconds.
func requestTimestamp(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, &ratingconfig.ValidationError{Message: "timestamp is required"}
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	return ratingconfig.ParseTimestamp(s)
}
