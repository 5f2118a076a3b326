package rating

import (
	"context"
	"time"

	"github.com/alecgard/ratekeeper/internal/decimal"
	"github.com/alecgard/ratekeeper/internal/tenant"
)

// Calendar aggregators.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// Dimension is a frame column queries can be sliced by.
type Dimension string

const (
	DimNamespace Dimension = "namespace"
	DimNode      Dimension = "node"
	DimPod       Dimension = "pod"
	DimMetric    Dimension = "metric"
)

func (d Dimension) column() column {
	return column{name: string(d)}
}

// PeriodStart truncates now to the start of the current UTC day, ISO week
// (Monday) or month.
func PeriodStart(now time.Time, aggregator string) (time.Time, bool) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch aggregator {
	case Daily:
		return day, true
	case Weekly:
		offset := (int(now.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), true
	case Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// daysInMonth returns the number of days of t's month.
func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

type calendarKey struct {
	across     bool
	aggregator string
}

// Calendar answers the daily, weekly and monthly to-date queries of a
// dimension. value is either a dimension value or Sentinel for the
// breakdown across all values. Unknown combinations yield no rows.
func (e *Engine) Calendar(ctx context.Context, scope tenant.Scope, dim Dimension, value, aggregator string) ([]Row, error) {
	now := e.Now()
	start, _ := PeriodStart(now, aggregator)
	w := Range{Start: start, End: now}

	switch (calendarKey{across: value == Sentinel, aggregator: aggregator}) {
	case calendarKey{true, Daily}, calendarKey{true, Weekly}, calendarKey{true, Monthly}:
		return e.run(ctx, scope, query{
			name:               string(dim) + "s " + aggregator + " rating",
			cols:               []column{colBegin, colSumPrice, dim.column()},
			window:             &w,
			excludeUnspecified: true,
			groupBy:            []string{"frame_begin", string(dim)},
			orderBy:            []string{"frame_begin", string(dim)},
		})

	case calendarKey{false, Daily}, calendarKey{false, Weekly}, calendarKey{false, Monthly}:
		if dim == DimMetric {
			return e.scaledMax(ctx, scope, value, w, projectionFactor(now, aggregator))
		}
		cols := []column{colBegin, colSumPrice}
		if dim == DimNamespace {
			cols = append(cols, colNamespace)
		}
		return e.run(ctx, scope, query{
			name:               string(dim) + " " + aggregator + " rating",
			cols:               cols,
			filters:            []filter{{string(dim), value}},
			window:             &w,
			excludeUnspecified: true,
			groupBy:            []string{"frame_begin", string(dim)},
			orderBy:            []string{"frame_begin"},
		})

	default:
		return []Row{}, nil
	}
}

// projectionFactor is the number of hours an hourly maximum is scaled by to
// project a full period.
func projectionFactor(now time.Time, aggregator string) decimal.Decimal {
	switch aggregator {
	case Weekly:
		return decimal.FromInt64(24 * 7)
	case Monthly:
		return decimal.FromInt64(int64(24 * daysInMonth(now)))
	default:
		return decimal.FromInt64(24)
	}
}

// MetricToDate scales the maximum price of metric observed this month by the
// hours elapsed since the month started.
func (e *Engine) MetricToDate(ctx context.Context, scope tenant.Scope, metric string) ([]Row, error) {
	now := e.Now()
	start, _ := PeriodStart(now, Monthly)
	hours := decimal.FromInt64(int64(now.Sub(start) / time.Second)).Div(decimal.FromInt64(3600))
	return e.scaledMax(ctx, scope, metric, Range{Start: start, End: now}, hours)
}

// scaledMax returns the maximum frame price of metric within w multiplied by
// factor and rounded up.
func (e *Engine) scaledMax(ctx context.Context, scope tenant.Scope, metric string, w Range, factor decimal.Decimal) ([]Row, error) {
	rows, err := e.run(ctx, scope, query{
		name:    "metric projection",
		cols:    []column{{name: "frame_price", expr: "max(frame_price)", kind: kindDecimal}},
		filters: []filter{{"metric", metric}},
		window:  &w,
	})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if p, ok := r["frame_price"].(decimal.Decimal); ok {
			r["frame_price"] = p.Mul(factor).Ceil()
		}
	}
	return rows, nil
}
