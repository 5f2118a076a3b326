package rating

import (
	"context"

	"github.com/alecgard/ratekeeper/internal/tenant"
)

// ListNodes returns the nodes that carried visible frames.
func (e *Engine) ListNodes(ctx context.Context, scope tenant.Scope) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "nodes",
		cols:    []column{colNode},
		groupBy: []string{"node"},
		orderBy: []string{"node"},
	})
}

func (e *Engine) NodesRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "nodes rating",
		cols:               []column{colBegin, colSumPrice, colNode},
		window:             &r,
		excludeUnspecified: true,
		groupBy:            []string{"frame_begin", "node"},
		orderBy:            []string{"frame_begin", "node"},
	})
}

func (e *Engine) NodesTotalRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "nodes total rating",
		cols:    []column{colSumPrice, colNode},
		window:  &r,
		groupBy: []string{"node"},
		orderBy: []string{"node"},
	})
}

func (e *Engine) NodesMetricsRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "nodes metrics rating",
		cols:               []column{colBegin, colSumPrice, colNode, colMetric},
		window:             &r,
		openEnd:            true,
		excludeUnspecified: true,
		groupBy:            []string{"frame_begin", "metric", "node"},
		orderBy:            []string{"frame_begin", "metric", "node"},
	})
}

// NodeRating sums the prices of one node per time bucket and metric.
func (e *Engine) NodeRating(ctx context.Context, scope tenant.Scope, node string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node rating",
		cols:    []column{colBegin, colMetric, colSumPrice},
		filters: []filter{{"node", node}},
		window:  &r,
		groupBy: []string{"frame_begin", "metric"},
		orderBy: []string{"frame_begin", "metric"},
	})
}

func (e *Engine) NodeTotalRating(ctx context.Context, scope tenant.Scope, node string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node total rating",
		cols:    []column{colSumPrice, colNamespace, colNode, colPod},
		filters: []filter{{"node", node}},
		window:  &r,
		groupBy: []string{"namespace", "node", "pod"},
		orderBy: []string{"namespace", "pod"},
	})
}

// NodeNamespacesRating breaks the prices of one node down by namespace.
func (e *Engine) NodeNamespacesRating(ctx context.Context, scope tenant.Scope, node string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node namespaces rating",
		cols:    []column{colBegin, colSumPrice, colNamespace},
		filters: []filter{{"node", node}},
		window:  &r,
		openEnd: true,
		groupBy: []string{"frame_begin", "namespace"},
		orderBy: []string{"frame_begin", "namespace"},
	})
}

func (e *Engine) NodeNamespaceRating(ctx context.Context, scope tenant.Scope, node, namespace string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node namespace rating",
		cols:    []column{colBegin, colSumPrice, colNode, colNamespace},
		filters: []filter{{"node", node}, {"namespace", namespace}},
		window:  &r,
		groupBy: []string{"frame_begin", "node", "namespace"},
		orderBy: []string{"frame_begin"},
	})
}

func (e *Engine) NodeNamespaceTotalRating(ctx context.Context, scope tenant.Scope, node, namespace string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node namespace total rating",
		cols:    []column{colSumPrice, colNode, colNamespace},
		filters: []filter{{"node", node}, {"namespace", namespace}},
		window:  &r,
		groupBy: []string{"node", "namespace"},
		orderBy: []string{"namespace"},
	})
}

// NodeMetricRating lists the raw frames of one metric on one node.
func (e *Engine) NodeMetricRating(ctx context.Context, scope tenant.Scope, node, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node metric rating",
		cols:    []column{colBegin, colEnd, colMetric, colPrice, colNamespace, colPod},
		filters: []filter{{"node", node}, {"metric", metric}},
		window:  &r,
		orderBy: []string{"frame_begin", "namespace", "pod", "metric"},
	})
}

func (e *Engine) NodeMetricTotalRating(ctx context.Context, scope tenant.Scope, node, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "node metric total rating",
		cols:    []column{colSumPrice, colMetric, colNamespace, colPod},
		filters: []filter{{"node", node}, {"metric", metric}},
		window:  &r,
		groupBy: []string{"metric", "namespace", "pod"},
		orderBy: []string{"namespace", "pod", "metric"},
	})
}
