package ratingconfig

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the layout of configuration timestamps on write.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FarFuture is the valid_to of the most recent configuration
// (2100-01-01T01:01:00Z).
const FarFuture int64 = 4102448460

var (
	// ErrNotFound is returned when a configuration version does not exist.
	ErrNotFound = errors.New("configuration not found")
	// ErrAlreadyExists is returned when creating a version that exists.
	ErrAlreadyExists = errors.New("configuration already exists")
)

// MetricDef maps a logical metric to its source column and report.
type MetricDef struct {
	PrestoColumn string `json:"presto_column" yaml:"presto_column"`
	PrestoTable  string `json:"presto_table" yaml:"presto_table"`
	ReportName   string `json:"report_name" yaml:"report_name"`
	Unit         string `json:"unit" yaml:"unit"`
}

// RuleEntry prices one metric.
type RuleEntry struct {
	Metric string  `json:"metric" yaml:"metric"`
	Value  float64 `json:"value" yaml:"value"`
	Unit   string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// RuleGroup is an ordered set of rules applying to a label set.
type RuleGroup struct {
	Name     string            `json:"name,omitempty" yaml:"name,omitempty"`
	LabelSet map[string]string `json:"labelSet,omitempty" yaml:"labelSet,omitempty"`
	Ruleset  []RuleEntry       `json:"ruleset" yaml:"ruleset"`
}

// Configuration is one version of the pricing configuration. Timestamp is
// both its identity and the start of its validity.
type Configuration struct {
	Timestamp int64                `json:"timestamp"`
	Metrics   map[string]MetricDef `json:"metrics"`
	Rules     []RuleGroup          `json:"rules"`
}

// Version is a configuration together with its validity interval
// [ValidFrom, ValidTo).
type Version struct {
	Configuration
	ValidFrom int64 `json:"valid_from"`
	ValidTo   int64 `json:"valid_to"`
}

// Patch carries the documents of a partial update. Nil fields are left
// untouched.
type Patch struct {
	Metrics map[string]MetricDef
	Rules   []RuleGroup
}

// ParseTimestamp converts a configuration timestamp to epoch seconds. Both
// the write layout and a plain epoch integer are accepted.
func ParseTimestamp(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, &ValidationError{Message: fmt.Sprintf("negative timestamp %d", n)}
		}
		return n, nil
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return 0, &ValidationError{Message: fmt.Sprintf("timestamp %q does not match %s", s, TimestampLayout)}
	}
	return t.Unix(), nil
}

// FormatTimestamp renders epoch seconds in the write layout.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(TimestampLayout)
}
