package rating

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidRange is returned when a query interval cannot be parsed.
var ErrInvalidRange = errors.New("invalid time range")

// ErrInvalidParam is returned for dimension values outside the accepted
// character set.
var ErrInvalidParam = errors.New("invalid parameter")

// QueryTimeLayout is the format of query bounds: millisecond precision with a
// trailing Z.
const QueryTimeLayout = "2006-01-02 15:04:05.000Z"

var rangeLayouts = []string{
	"2006-01-02 15:04:05.999999999Z",
	"2006-01-02T15:04:05.999999999Z",
	time.RFC3339Nano,
}

var paramPattern = regexp.MustCompile(`^[a-zA-Z0-9_,.:-]+$`)

// ValidateParam checks a user supplied dimension value.
func ValidateParam(name, value string) error {
	if !paramPattern.MatchString(value) {
		return fmt.Errorf("%w: %s: %q", ErrInvalidParam, name, value)
	}
	return nil
}

// RangeDefaults configures the interval used when bounds are omitted.
type RangeDefaults struct {
	// Skew is subtracted from the current minute to give late frames time
	// to land.
	Skew   time.Duration
	Window time.Duration
}

// Parse builds a Range from optional start and end strings. A missing end is
// the current time rounded to the minute minus Skew, a missing start is end
// minus Window.
func (d RangeDefaults) Parse(start, end string, now time.Time) (Range, error) {
	var r Range
	var err error

	if end == "" {
		r.End = now.UTC().Round(time.Minute).Add(-d.Skew)
	} else if r.End, err = parseBound(end); err != nil {
		return Range{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}

	if start == "" {
		r.Start = r.End.Add(-d.Window)
	} else if r.Start, err = parseBound(start); err != nil {
		return Range{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}

	if r.Start.After(r.End) {
		return Range{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			r.Start.Format(QueryTimeLayout), r.End.Format(QueryTimeLayout))
	}
	return r, nil
}

func parseBound(s string) (time.Time, error) {
	for _, layout := range rangeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q does not match %s", s, QueryTimeLayout)
}
