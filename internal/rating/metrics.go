package rating

import (
	"context"

	"github.com/alecgard/ratekeeper/internal/tenant"
)

// ListMetrics returns the metrics with visible frames.
func (e *Engine) ListMetrics(ctx context.Context, scope tenant.Scope) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "metrics",
		cols:    []column{colMetric},
		groupBy: []string{"metric"},
		orderBy: []string{"metric"},
	})
}

// MetricsRating sums prices per time bucket and metric.
func (e *Engine) MetricsRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "metrics rating",
		cols:               []column{colBegin, colSumPrice, colMetric},
		window:             &r,
		openEnd:            true,
		excludeUnspecified: true,
		groupBy:            []string{"frame_begin", "metric"},
		orderBy:            []string{"frame_begin", "metric"},
	})
}

// MetricRating returns, per time bucket, the number of rated frames and
// their summed price for one metric.
func (e *Engine) MetricRating(ctx context.Context, scope tenant.Scope, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name: "metric rating",
		cols: []column{
			colBegin,
			{name: "node_count", expr: "count(node)", kind: kindInt},
			colMetric,
			{name: "price", expr: "sum(frame_price)", kind: kindDecimal},
		},
		filters: []filter{{"metric", metric}},
		window:  &r,
		groupBy: []string{"frame_begin", "metric"},
		orderBy: []string{"frame_begin"},
	})
}

func (e *Engine) MetricTotalRating(ctx context.Context, scope tenant.Scope, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "metric total rating",
		cols:    []column{colSumPrice, colMetric},
		filters: []filter{{"metric", metric}},
		window:  &r,
		groupBy: []string{"metric"},
	})
}

// MetricMax returns the highest frame price of metric per time bucket,
// rounded up.
func (e *Engine) MetricMax(ctx context.Context, scope tenant.Scope, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "metric max",
		cols:    []column{colBegin, {name: "frame_price", expr: "ceil(max(frame_price))", kind: kindDecimal}},
		filters: []filter{{"metric", metric}},
		window:  &r,
		openEnd: true,
		groupBy: []string{"frame_begin"},
		orderBy: []string{"frame_begin"},
	})
}

// MetricRatio returns the average price per rated frame of metric per time
// bucket.
func (e *Engine) MetricRatio(ctx context.Context, scope tenant.Scope, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name: "metric ratio",
		cols: []column{
			colBegin,
			{name: "ratio", expr: "sum(frame_price) / count(node)", kind: kindDecimal},
			colMetric,
		},
		filters: []filter{{"metric", metric}},
		window:  &r,
		groupBy: []string{"frame_begin", "metric"},
		orderBy: []string{"frame_begin"},
	})
}

// MetricNodesRating sums the prices of metric per time bucket and node.
func (e *Engine) MetricNodesRating(ctx context.Context, scope tenant.Scope, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "metric nodes rating",
		cols:    []column{colBegin, colSumPrice, colMetric, colNode},
		filters: []filter{{"metric", metric}},
		window:  &r,
		groupBy: []string{"frame_begin", "metric", "node"},
		orderBy: []string{"frame_begin", "metric", "node"},
	})
}
