package frames

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/ratekeeper/internal/decimal"
)

// Accepted textual timestamp layouts, tried in order. Values without a zone
// are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTime normalizes a frame timestamp. It accepts epoch seconds as a JSON
// number or digit string, or an ISO-like date time.
func ParseTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("missing timestamp")
	}

	if raw[0] != '"' {
		return parseEpoch(string(raw))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	s = strings.TrimSpace(s)
	if s != "" && strings.Trim(s, "0123456789") == "" {
		return parseEpoch(s)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// maxEpoch is 9999-12-31T23:59:59Z, the last instant Postgres timestamps and
// the textual layouts can both represent.
const maxEpoch = 253402300799

func parseEpoch(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || f < 0 || f > maxEpoch {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %s", s)
		}
		whole, frac := math.Modf(f)
		return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
	}
	if secs < 0 || secs > maxEpoch {
		return time.Time{}, fmt.Errorf("invalid epoch timestamp %s", s)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// objectFrame is the keyed form of a frame record.
type objectFrame struct {
	Start      json.RawMessage `json:"start"`
	FrameBegin json.RawMessage `json:"frame_begin"`
	End        json.RawMessage `json:"end"`
	FrameEnd   json.RawMessage `json:"frame_end"`
	Namespace  string          `json:"namespace"`
	Node       string          `json:"node"`
	Metric     string          `json:"metric"`
	Pod        string          `json:"pod"`
	Quantity   json.RawMessage `json:"quantity"`
	FramePrice json.RawMessage `json:"frame_price"`
	Price      json.RawMessage `json:"price"`
	Labels     json.RawMessage `json:"labels"`
}

// ParseFrame decodes one frame. Positional records follow the column order
// [start, end, namespace, node, metric, pod, quantity, frame_price, labels]
// with labels optional. Keyed records use the column names.
func ParseFrame(raw json.RawMessage) (Frame, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Frame{}, errors.New("empty frame")
	}

	var obj objectFrame
	switch raw[0] {
	case '[':
		var fields []json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Frame{}, fmt.Errorf("decoding frame: %w", err)
		}
		if len(fields) != 8 && len(fields) != 9 {
			return Frame{}, fmt.Errorf("expected 8 or 9 fields, got %d", len(fields))
		}
		obj.Start, obj.End = fields[0], fields[1]
		for i, dst := range []*string{&obj.Namespace, &obj.Node, &obj.Metric, &obj.Pod} {
			if err := json.Unmarshal(fields[2+i], dst); err != nil {
				return Frame{}, fmt.Errorf("field %d must be a string", 2+i)
			}
		}
		obj.Quantity, obj.FramePrice = fields[6], fields[7]
		if len(fields) == 9 {
			obj.Labels = fields[8]
		}
	case '{':
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Frame{}, fmt.Errorf("decoding frame: %w", err)
		}
		if obj.Start == nil {
			obj.Start = obj.FrameBegin
		}
		if obj.End == nil {
			obj.End = obj.FrameEnd
		}
		if obj.FramePrice == nil {
			obj.FramePrice = obj.Price
		}
	default:
		return Frame{}, errors.New("frame must be a list or an object")
	}

	return obj.frame()
}

func (o objectFrame) frame() (Frame, error) {
	var f Frame
	var err error

	if f.Begin, err = ParseTime(o.Start); err != nil {
		return Frame{}, fmt.Errorf("start: %w", err)
	}
	if f.End, err = ParseTime(o.End); err != nil {
		return Frame{}, fmt.Errorf("end: %w", err)
	}
	if !f.Begin.Before(f.End) {
		return Frame{}, fmt.Errorf("start %s is not before end %s",
			f.Begin.Format(time.RFC3339), f.End.Format(time.RFC3339))
	}

	f.Namespace, f.Node, f.Metric, f.Pod = o.Namespace, o.Node, o.Metric, o.Pod
	if f.Namespace == "" || f.Node == "" || f.Metric == "" || f.Pod == "" {
		return Frame{}, errors.New("namespace, node, metric and pod are required")
	}

	f.Quantity = decimal.FromInt64(0)
	if len(o.Quantity) > 0 {
		if err := json.Unmarshal(o.Quantity, &f.Quantity); err != nil {
			return Frame{}, fmt.Errorf("quantity: %w", err)
		}
		if f.Quantity.IsNull() {
			f.Quantity = decimal.FromInt64(0)
		}
	}

	if len(o.FramePrice) == 0 {
		return Frame{}, errors.New("frame_price is required")
	}
	if err := json.Unmarshal(o.FramePrice, &f.Price); err != nil {
		return Frame{}, fmt.Errorf("frame_price: %w", err)
	}
	if f.Price.IsNull() {
		return Frame{}, errors.New("frame_price is required")
	}

	if f.Labels, err = normalizeLabels(o.Labels); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// normalizeLabels accepts a JSON object, a string holding a JSON object, or
// nothing, and always returns an object.
func normalizeLabels(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return json.RawMessage("{}"), nil
		}
		raw = json.RawMessage(s)
	}

	var labels map[string]any
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, errors.New("labels must be a JSON object")
	}
	out, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	return out, nil
}

// Decode validates a batch and parses every frame. Any malformed frame
// rejects the whole batch. maxFrames <= 0 disables the size check.
func (b *Batch) Decode(maxFrames int) (*Ingest, error) {
	if b.Metric == "" {
		return nil, fmt.Errorf("%w: metric is required", ErrInvalidBatch)
	}
	if b.ReportName == "" {
		return nil, fmt.Errorf("%w: report_name is required", ErrInvalidBatch)
	}
	if maxFrames > 0 && len(b.RatedFrames) > maxFrames {
		return nil, fmt.Errorf("%w: %d frames exceeds the limit of %d",
			ErrInvalidBatch, len(b.RatedFrames), maxFrames)
	}

	observed, err := ParseTime(b.LastInsert)
	if err != nil {
		return nil, fmt.Errorf("%w: last_insert: %v", ErrInvalidBatch, err)
	}

	in := &Ingest{
		Frames:     make([]Frame, 0, len(b.RatedFrames)),
		Namespaces: dedupe(b.RatedNamespaces),
		Metric:     b.Metric,
		ReportName: b.ReportName,
		ObservedAt: observed,
	}
	for i, raw := range b.RatedFrames {
		f, err := ParseFrame(raw)
		if err != nil {
			return nil, &RecordError{Index: i, Err: err}
		}
		in.Frames = append(in.Frames, f)
	}
	return in, nil
}

// dedupe drops empty and repeated names, keeping first-seen order.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
