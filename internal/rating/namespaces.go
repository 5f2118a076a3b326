package rating

import (
	"context"

	"github.com/alecgard/ratekeeper/internal/tenant"
)

// NamespacesRating returns the price of every visible frame, by namespace.
func (e *Engine) NamespacesRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "namespaces rating",
		cols:               []column{colBegin, colPrice, colNamespace},
		window:             &r,
		excludeUnspecified: true,
		orderBy:            []string{"frame_begin", "namespace"},
	})
}

// NamespacesTotalRating sums prices per namespace over r.
func (e *Engine) NamespacesTotalRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "namespaces total rating",
		cols:    []column{colSumPrice, colNamespace},
		window:  &r,
		groupBy: []string{"namespace"},
		orderBy: []string{"namespace"},
	})
}

// NamespacesMetricsRating sums prices per time bucket, metric and namespace.
func (e *Engine) NamespacesMetricsRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "namespaces metrics rating",
		cols:               []column{colBegin, colSumPrice, colNamespace, colMetric},
		window:             &r,
		openEnd:            true,
		excludeUnspecified: true,
		groupBy:            []string{"frame_begin", "metric", "namespace"},
		orderBy:            []string{"frame_begin", "metric", "namespace"},
	})
}

// NamespaceRating sums the prices of one namespace per time bucket and metric.
func (e *Engine) NamespaceRating(ctx context.Context, scope tenant.Scope, namespace string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "namespace rating",
		cols:    []column{colBegin, colSumPrice, colMetric},
		filters: []filter{{"namespace", namespace}},
		window:  &r,
		groupBy: []string{"frame_begin", "metric"},
		orderBy: []string{"frame_begin", "metric"},
	})
}

// NamespaceTotalRating sums the prices of one namespace per node and pod.
func (e *Engine) NamespaceTotalRating(ctx context.Context, scope tenant.Scope, namespace string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "namespace total rating",
		cols:    []column{colSumPrice, colNamespace, colNode, colPod},
		filters: []filter{{"namespace", namespace}},
		window:  &r,
		groupBy: []string{"namespace", "node", "pod"},
		orderBy: []string{"node", "pod"},
	})
}

// NamespaceMetricRating sums the prices of one metric within one namespace
// per time bucket and pod.
func (e *Engine) NamespaceMetricRating(ctx context.Context, scope tenant.Scope, namespace, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "namespace metric rating",
		cols:    []column{colBegin, colSumPrice, colPod},
		filters: []filter{{"namespace", namespace}, {"metric", metric}},
		window:  &r,
		openEnd: true,
		groupBy: []string{"frame_begin", "pod"},
		orderBy: []string{"frame_begin", "pod"},
	})
}
