package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/frames"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/alecgard/ratekeeper/internal/tenant"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// maxIngestBodySize bounds ingestion batches, which carry whole reports.
const maxIngestBodySize = 64 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// resultsEnvelope wraps every successful list response.
type resultsEnvelope struct {
	Total   int `json:"total"`
	Results any `json:"results"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeResults writes rows in the {total, results} envelope.
func writeResults[T any](w http.ResponseWriter, rows []T) {
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, resultsEnvelope{Total: len(rows), Results: rows})
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v any) error {
	return readJSONLimit(r, v, maxBodySize)
}

func readJSONLimit(r *http.Request, v any, limit int64) error {
	lr := io.LimitReader(r.Body, limit)
	return json.NewDecoder(lr).Decode(v)
}

// writeStoreError maps domain errors to HTTP responses. Unknown errors are
// logged with the given attributes and reported as internal errors.
func writeStoreError(w http.ResponseWriter, err error, attrs ...any) {
	var validation *ratingconfig.ValidationError
	var record *frames.RecordError

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", validation.Message)
	case errors.As(err, &record):
		writeError(w, http.StatusBadRequest, "invalid_frame", record.Error())
	case errors.Is(err, frames.ErrInvalidBatch),
		errors.Is(err, rating.ErrInvalidRange),
		errors.Is(err, rating.ErrInvalidParam),
		errors.Is(err, auth.ErrInvalidGroup):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ratingconfig.ErrNotFound), errors.Is(err, tenant.ErrNotFound),
		errors.Is(err, tenant.ErrNamespaceNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ratingconfig.ErrAlreadyExists), errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		slog.Error("request failed", append(attrs, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
