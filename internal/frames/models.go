package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alecgard/ratekeeper/internal/decimal"
)

// ErrInvalidBatch is returned for batches rejected before any write.
var ErrInvalidBatch = errors.New("invalid batch")

// Frame is one rated usage record over the half-open window [Begin, End).
type Frame struct {
	Begin     time.Time       `json:"frame_begin"`
	End       time.Time       `json:"frame_end"`
	Namespace string          `json:"namespace"`
	Node      string          `json:"node"`
	Metric    string          `json:"metric"`
	Pod       string          `json:"pod"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"frame_price"`
	Labels    json.RawMessage `json:"labels"`
}

// Batch is the wire form of an ingestion request.
type Batch struct {
	RatedFrames     []json.RawMessage `json:"rated_frames"`
	RatedNamespaces []string          `json:"rated_namespaces"`
	Metric          string            `json:"metric"`
	ReportName      string            `json:"report_name"`
	LastInsert      json.RawMessage   `json:"last_insert"`
}

// Ingest is a decoded, validated batch ready to be written.
type Ingest struct {
	Frames     []Frame
	Namespaces []string
	Metric     string
	ReportName string
	ObservedAt time.Time
}

// Result summarises a committed ingestion.
type Result struct {
	Received   int   `json:"received"`
	Staged     int   `json:"staged"`
	Merged     int64 `json:"merged"`
	Namespaces int   `json:"namespaces"`
}

// Status is the ingestion watermark of a (report, metric) pair.
type Status struct {
	ReportName string    `json:"report_name"`
	Metric     string    `json:"metric"`
	LastInsert time.Time `json:"last_insert"`
}

// RecordError reports a malformed frame. The whole batch is rejected.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
