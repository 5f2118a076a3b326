package rating

import (
	"context"

	"github.com/alecgard/ratekeeper/internal/tenant"
)

// ListPods returns the pods with frames inside r.
func (e *Engine) ListPods(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pods",
		cols:    []column{colPod},
		window:  &r,
		openEnd: true,
		groupBy: []string{"pod"},
		orderBy: []string{"pod"},
	})
}

// PodsRating lists every visible frame with all of its dimensions.
func (e *Engine) PodsRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "pods rating",
		cols:               []column{colBegin, colEnd, colPrice, colMetric, colNamespace, colNode, colPod},
		window:             &r,
		excludeUnspecified: true,
		orderBy:            []string{"frame_begin", "metric"},
	})
}

func (e *Engine) PodsTotalRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pods total rating",
		cols:    []column{colSumPrice, colPod},
		window:  &r,
		groupBy: []string{"pod"},
		orderBy: []string{"pod"},
	})
}

func (e *Engine) PodsMetricsRating(ctx context.Context, scope tenant.Scope, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:               "pods metrics rating",
		cols:               []column{colBegin, colSumPrice, colPod, colMetric},
		window:             &r,
		openEnd:            true,
		excludeUnspecified: true,
		groupBy:            []string{"frame_begin", "metric", "pod"},
		orderBy:            []string{"frame_begin", "metric", "pod"},
	})
}

// PodRating sums the prices of one pod per time bucket and metric.
func (e *Engine) PodRating(ctx context.Context, scope tenant.Scope, pod string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pod rating",
		cols:    []column{colBegin, colSumPrice, colMetric, colPod},
		filters: []filter{{"pod", pod}},
		window:  &r,
		groupBy: []string{"frame_begin", "metric", "pod"},
		orderBy: []string{"frame_begin", "metric", "pod"},
	})
}

func (e *Engine) PodTotalRating(ctx context.Context, scope tenant.Scope, pod string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pod total rating",
		cols:    []column{colSumPrice, colNamespace, colNode, colPod},
		filters: []filter{{"pod", pod}},
		window:  &r,
		groupBy: []string{"namespace", "node", "pod"},
		orderBy: []string{"namespace", "node", "pod"},
	})
}

// PodNamespace returns the namespaces a pod ran in during r.
func (e *Engine) PodNamespace(ctx context.Context, scope tenant.Scope, pod string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pod namespace",
		cols:    []column{colPod, colNamespace},
		filters: []filter{{"pod", pod}},
		window:  &r,
		groupBy: []string{"pod", "namespace"},
		orderBy: []string{"namespace"},
	})
}

// PodNode returns the nodes a pod ran on during r.
func (e *Engine) PodNode(ctx context.Context, scope tenant.Scope, pod string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pod node",
		cols:    []column{colPod, colNode},
		filters: []filter{{"pod", pod}},
		window:  &r,
		groupBy: []string{"pod", "node"},
		orderBy: []string{"node"},
	})
}

// PodLifetime returns the first frame start and last frame end of a pod.
func (e *Engine) PodLifetime(ctx context.Context, scope tenant.Scope, pod string) ([]Row, error) {
	return e.run(ctx, scope, query{
		name: "pod lifetime",
		cols: []column{
			{name: "start", expr: "min(frame_begin)", kind: kindTime},
			{name: "end", expr: "max(frame_end)", kind: kindTime},
		},
		filters: []filter{{"pod", pod}},
	})
}

// PodMetricRating lists the raw frames of one metric for one pod.
func (e *Engine) PodMetricRating(ctx context.Context, scope tenant.Scope, pod, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pod metric rating",
		cols:    []column{colBegin, colEnd, colPrice, colNamespace, colNode},
		filters: []filter{{"pod", pod}, {"metric", metric}},
		window:  &r,
		orderBy: []string{"frame_begin"},
	})
}

func (e *Engine) PodMetricTotalRating(ctx context.Context, scope tenant.Scope, pod, metric string, r Range) ([]Row, error) {
	return e.run(ctx, scope, query{
		name:    "pod metric total rating",
		cols:    []column{colSumPrice, colPod},
		filters: []filter{{"pod", pod}, {"metric", metric}},
		window:  &r,
		groupBy: []string{"pod"},
	})
}
