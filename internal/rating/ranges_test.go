package rating

import (
	"errors"
	"testing"
	"time"
)

func TestRangeDefaults_Parse(t *testing.T) {
	d := RangeDefaults{Skew: 5 * time.Minute, Window: 2*time.Hour + time.Minute}
	now := time.Date(2024, 3, 1, 10, 0, 40, 0, time.UTC)

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "defaults",
			wantEnd:   time.Date(2024, 3, 1, 9, 56, 0, 0, time.UTC),
			wantStart: time.Date(2024, 3, 1, 7, 55, 0, 0, time.UTC),
		},
		{
			name:      "explicit bounds",
			start:     "2024-02-01 00:00:00.000Z",
			end:       "2024-02-02 00:00:00.000Z",
			wantStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "T separator",
			start:     "2024-02-01T00:00:00.500Z",
			end:       "2024-02-01T01:00:00Z",
			wantStart: time.Date(2024, 2, 1, 0, 0, 0, 500e6, time.UTC),
			wantEnd:   time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC),
		},
		{
			name:      "start only",
			start:     "2024-03-01 09:00:00.000Z",
			wantStart: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 3, 1, 9, 56, 0, 0, time.UTC),
		},
		{name: "garbage start", start: "yesterday", wantErr: true},
		{name: "garbage end", end: "2024-13-01 00:00:00.000Z", wantErr: true},
		{name: "inverted", start: "2024-02-02 00:00:00.000Z", end: "2024-02-01 00:00:00.000Z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Parse(tt.start, tt.end, now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Fatalf("expected ErrInvalidRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if !got.Start.Equal(tt.wantStart) || !got.End.Equal(tt.wantEnd) {
				t.Errorf("got [%v, %v), want [%v, %v)", got.Start, got.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestValidateParam(t *testing.T) {
	for _, ok := range []string{"ns-a", "node_1", "ip-10-0-0-1.ec2.internal", "usage_cpu", "a,b"} {
		if err := ValidateParam("value", ok); err != nil {
			t.Errorf("ValidateParam(%q) error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "ns a", "x;DROP", "ns/a", "'quoted'"} {
		if err := ValidateParam("value", bad); !errors.Is(err, ErrInvalidParam) {
			t.Errorf("ValidateParam(%q) should fail, got %v", bad, err)
		}
	}
}
