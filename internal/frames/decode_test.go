package frames

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
		err  bool
	}{
		{"epoch number", `1709287200`, want, false},
		{"epoch string", `"1709287200"`, want, false},
		{"space separated", `"2024-03-01 10:00:00"`, want, false},
		{"space separated with fraction", `"2024-03-01 10:00:00.250"`, want.Add(250 * time.Millisecond), false},
		{"space separated with zone", `"2024-03-01 11:00:00+01:00"`, want, false},
		{"rfc3339", `"2024-03-01T10:00:00Z"`, want, false},
		{"iso without zone", `"2024-03-01T10:00:00"`, want, false},
		{"null", `null`, time.Time{}, true},
		{"garbage", `"yesterday"`, time.Time{}, true},
		{"negative epoch", `-5`, time.Time{}, true},
		{"bool", `true`, time.Time{}, true},
		{"fractional epoch", `1709287200.5`, want.Add(500 * time.Millisecond), false},
		{"last representable second", `253402300799`, time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC), false},
		{"epoch past year 9999", `253402300800`, time.Time{}, true},
		{"epoch string past year 9999", `"99999999999999"`, time.Time{}, true},
		{"max int64 epoch", `9223372036854775807`, time.Time{}, true},
		{"float epoch overflow", `1e20`, time.Time{}, true},
		{"nan epoch", `NaN`, time.Time{}, true},
		{"infinite epoch", `Inf`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(json.RawMessage(tt.raw))
			if tt.err {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTime() error: %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFrame_Positional(t *testing.T) {
	raw := `["2024-03-01 10:00:00", "2024-03-01 11:00:00", "ns-a", "node-1", "usage_cpu", "pod-1", 2, "0.5", {"app": "web"}]`
	f, err := ParseFrame(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}
	if f.Namespace != "ns-a" || f.Node != "node-1" || f.Metric != "usage_cpu" || f.Pod != "pod-1" {
		t.Errorf("unexpected dimensions %+v", f)
	}
	if f.Quantity.String() != "2" || f.Price.String() != "0.5" {
		t.Errorf("unexpected quantity/price %s/%s", f.Quantity, f.Price)
	}
	if string(f.Labels) != `{"app":"web"}` {
		t.Errorf("unexpected labels %s", f.Labels)
	}
	if f.End.Sub(f.Begin) != time.Hour {
		t.Errorf("unexpected window %v - %v", f.Begin, f.End)
	}
}

func TestParseFrame_Keyed(t *testing.T) {
	raw := `{"frame_begin": 1709287200, "frame_end": 1709290800, "namespace": "ns-a",
		"node": "node-1", "metric": "usage_cpu", "pod": "pod-1", "price": 1.25, "labels": "{\"zone\":\"eu\"}"}`
	f, err := ParseFrame(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}
	if f.Price.String() != "1.25" || f.Quantity.String() != "0" {
		t.Errorf("unexpected price/quantity %s/%s", f.Price, f.Quantity)
	}
	if string(f.Labels) != `{"zone":"eu"}` {
		t.Errorf("expected labels decoded from string, got %s", f.Labels)
	}
}

func TestParseFrame_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"scalar", `42`, "list or an object"},
		{"short list", `[1, 2, "ns"]`, "expected 8 or 9 fields"},
		{"bad start", `["soon", 10, "ns", "n", "m", "p", 1, 1]`, "start"},
		{"start out of range", `[1e20, 10, "ns", "n", "m", "p", 1, 1]`, "start"},
		{"end before start", `[10, 5, "ns", "n", "m", "p", 1, 1]`, "is not before end"},
		{"empty window", `[10, 10, "ns", "n", "m", "p", 1, 1]`, "is not before end"},
		{"missing pod", `[1, 10, "ns", "n", "m", "", 1, 1]`, "are required"},
		{"null price", `[1, 10, "ns", "n", "m", "p", 1, null]`, "frame_price is required"},
		{"bad price", `[1, 10, "ns", "n", "m", "p", 1, "cheap"]`, "frame_price"},
		{"labels list", `[1, 10, "ns", "n", "m", "p", 1, 1, ["a"]]`, "labels must be a JSON object"},
		{"numeric namespace", `[1, 10, 7, "n", "m", "p", 1, 1]`, "field 2 must be a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(json.RawMessage(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestBatchDecode(t *testing.T) {
	batch := Batch{
		RatedFrames: []json.RawMessage{
			json.RawMessage(`[1, 10, "ns-a", "n", "usage_cpu", "p", 1, 0.5]`),
			json.RawMessage(`[1, 10, "ns-b", "n", "usage_cpu", "p", 1, 0.25]`),
		},
		RatedNamespaces: []string{"ns-a", "ns-b", "ns-a", ""},
		Metric:          "usage_cpu",
		ReportName:      "pod-cpu-usage-hourly",
		LastInsert:      json.RawMessage(`"2024-03-01 10:00:00"`),
	}

	in, err := batch.Decode(0)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(in.Frames) != 2 {
		t.Errorf("expected 2 frames, got %d", len(in.Frames))
	}
	if len(in.Namespaces) != 2 || in.Namespaces[0] != "ns-a" || in.Namespaces[1] != "ns-b" {
		t.Errorf("expected deduplicated namespaces, got %v", in.Namespaces)
	}
	if !in.ObservedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected observed time %v", in.ObservedAt)
	}
}

func TestBatchDecode_Rejects(t *testing.T) {
	good := json.RawMessage(`[1, 10, "ns-a", "n", "usage_cpu", "p", 1, 0.5]`)

	tests := []struct {
		name      string
		batch     Batch
		max       int
		wantBatch bool
		wantIndex int
	}{
		{"missing metric", Batch{ReportName: "r", LastInsert: json.RawMessage(`1`)}, 0, true, -1},
		{"missing report", Batch{Metric: "m", LastInsert: json.RawMessage(`1`)}, 0, true, -1},
		{"missing last insert", Batch{Metric: "m", ReportName: "r"}, 0, true, -1},
		{"too many frames", Batch{Metric: "m", ReportName: "r", LastInsert: json.RawMessage(`1`),
			RatedFrames: []json.RawMessage{good, good}}, 1, true, -1},
		{"last insert out of range", Batch{Metric: "m", ReportName: "r", LastInsert: json.RawMessage(`99999999999999`)}, 0, true, -1},
		{"end out of range", Batch{Metric: "m", ReportName: "r", LastInsert: json.RawMessage(`1`),
			RatedFrames: []json.RawMessage{good, json.RawMessage(`[1, 9223372036854775807, "ns", "n", "m", "p", 1, 1]`)}}, 0, false, 1},
		{"malformed second frame", Batch{Metric: "m", ReportName: "r", LastInsert: json.RawMessage(`1`),
			RatedFrames: []json.RawMessage{good, json.RawMessage(`["x", 10, "ns", "n", "m", "p", 1, 1]`)}}, 0, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.batch.Decode(tt.max)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantBatch && !errors.Is(err, ErrInvalidBatch) {
				t.Errorf("expected ErrInvalidBatch, got %v", err)
			}
			if tt.wantIndex >= 0 {
				var rerr *RecordError
				if !errors.As(err, &rerr) {
					t.Fatalf("expected RecordError, got %v", err)
				}
				if rerr.Index != tt.wantIndex {
					t.Errorf("expected index %d, got %d", tt.wantIndex, rerr.Index)
				}
			}
		})
	}
}
