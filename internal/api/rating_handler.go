package api

import (
	"context"
	"net/http"

	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/go-chi/chi/v5"
)

// Query shapes of the rating engine, by the URL parameters they take.
type (
	listFn    func(ctx context.Context, scope tenant.Scope) ([]rating.Row, error)
	list1Fn   func(ctx context.Context, scope tenant.Scope, a string) ([]rating.Row, error)
	rangeFn   func(ctx context.Context, scope tenant.Scope, r rating.Range) ([]rating.Row, error)
	range1Fn  func(ctx context.Context, scope tenant.Scope, a string, r rating.Range) ([]rating.Row, error)
	range2Fn  func(ctx context.Context, scope tenant.Scope, a, b string, r rating.Range) ([]rating.Row, error)
	boundCall func(ctx context.Context, scope tenant.Scope, r rating.Range, p []string) ([]rating.Row, error)
)

// ratingHandler serves the tenant-scoped aggregation queries.
type ratingHandler struct {
	engine   *rating.Engine
	resolver *tenant.Resolver
	tenants  *tenant.Store
	ranges   rating.RangeDefaults
}

func newRatingHandler(engine *rating.Engine, resolver *tenant.Resolver, tenants *tenant.Store, ranges rating.RangeDefaults) *ratingHandler {
	return &ratingHandler{engine: engine, resolver: resolver, tenants: tenants, ranges: ranges}
}

// resolveScope returns the namespaces visible to the caller of r.
func resolveScope(r *http.Request, resolver *tenant.Resolver) (tenant.Scope, error) {
	c := auth.CallerFromContext(r.Context())
	if c == nil {
		c = auth.Anonymous()
	}
	return resolver.Resolve(r.Context(), c.ID, c.Admin)
}

func (h *ratingHandler) routes(r chi.Router) {
	e := h.engine

	r.Get("/namespaces", h.ListNamespaces)
	r.Get("/namespaces/rating", h.ranged(e.NamespacesRating))
	r.Get("/namespaces/total_rating", h.ranged(e.NamespacesTotalRating))
	r.Get("/namespaces/metrics/rating", h.ranged(e.NamespacesMetricsRating))
	r.Get("/namespaces/{namespace}/rating", h.ranged1("namespace", e.NamespaceRating))
	r.Get("/namespaces/{namespace}/total_rating", h.ranged1("namespace", e.NamespaceTotalRating))
	r.Get("/namespaces/{namespace}/metrics/{metric}/rating", h.ranged2("namespace", "metric", e.NamespaceMetricRating))
	r.Get("/namespaces/{namespace}/{aggregator}", h.calendar(rating.DimNamespace, "namespace"))

	r.Get("/nodes", h.listed(e.ListNodes))
	r.Get("/nodes/rating", h.ranged(e.NodesRating))
	r.Get("/nodes/total_rating", h.ranged(e.NodesTotalRating))
	r.Get("/nodes/metrics/rating", h.ranged(e.NodesMetricsRating))
	r.Get("/nodes/{node}/rating", h.ranged1("node", e.NodeRating))
	r.Get("/nodes/{node}/total_rating", h.ranged1("node", e.NodeTotalRating))
	r.Get("/nodes/{node}/namespaces/rating", h.ranged1("node", e.NodeNamespacesRating))
	r.Get("/nodes/{node}/namespaces/{namespace}/rating", h.ranged2("node", "namespace", e.NodeNamespaceRating))
	r.Get("/nodes/{node}/namespaces/{namespace}/total_rating", h.ranged2("node", "namespace", e.NodeNamespaceTotalRating))
	r.Get("/nodes/{node}/metrics/{metric}/rating", h.ranged2("node", "metric", e.NodeMetricRating))
	r.Get("/nodes/{node}/metrics/{metric}/total_rating", h.ranged2("node", "metric", e.NodeMetricTotalRating))
	r.Get("/nodes/{node}/{aggregator}", h.calendar(rating.DimNode, "node"))

	r.Get("/pods", h.ranged(e.ListPods))
	r.Get("/pods/rating", h.ranged(e.PodsRating))
	r.Get("/pods/total_rating", h.ranged(e.PodsTotalRating))
	r.Get("/pods/metrics/rating", h.ranged(e.PodsMetricsRating))
	r.Get("/pods/{pod}/rating", h.ranged1("pod", e.PodRating))
	r.Get("/pods/{pod}/total_rating", h.ranged1("pod", e.PodTotalRating))
	r.Get("/pods/{pod}/namespace", h.ranged1("pod", e.PodNamespace))
	r.Get("/pods/{pod}/node", h.ranged1("pod", e.PodNode))
	r.Get("/pods/{pod}/lifetime", h.listed1("pod", e.PodLifetime))
	r.Get("/pods/{pod}/metrics/{metric}/rating", h.ranged2("pod", "metric", e.PodMetricRating))
	r.Get("/pods/{pod}/metrics/{metric}/total_rating", h.ranged2("pod", "metric", e.PodMetricTotalRating))
	r.Get("/pods/{pod}/{aggregator}", h.calendar(rating.DimPod, "pod"))

	r.Get("/metrics", h.listed(e.ListMetrics))
	r.Get("/metrics/rating", h.ranged(e.MetricsRating))
	r.Get("/metrics/{metric}/rating", h.ranged1("metric", e.MetricRating))
	r.Get("/metrics/{metric}/total_rating", h.ranged1("metric", e.MetricTotalRating))
	r.Get("/metrics/{metric}/max", h.ranged1("metric", e.MetricMax))
	r.Get("/metrics/{metric}/ratio", h.ranged1("metric", e.MetricRatio))
	r.Get("/metrics/{metric}/todate", h.listed1("metric", e.MetricToDate))
	r.Get("/metrics/{metric}/nodes/rating", h.ranged1("metric", e.MetricNodesRating))
	r.Get("/metrics/{metric}/{aggregator}", h.calendar(rating.DimMetric, "metric"))
}

// ListNamespaces returns the namespace bindings visible to the caller.
func (h *ratingHandler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	scope, err := resolveScope(r, h.resolver)
	if err != nil {
		writeStoreError(w, err, "route", routePattern(r))
		return
	}
	bindings, err := h.tenants.Bindings(r.Context(), scope)
	if err != nil {
		writeStoreError(w, err, "route", routePattern(r))
		return
	}
	writeResults(w, bindings)
}

func (h *ratingHandler) listed(fn listFn) http.HandlerFunc {
	return h.serve(false, func(ctx context.Context, s tenant.Scope, _ rating.Range, _ []string) ([]rating.Row, error) {
		return fn(ctx, s)
	})
}

func (h *ratingHandler) listed1(param string, fn list1Fn) http.HandlerFunc {
	return h.serve(false, func(ctx context.Context, s tenant.Scope, _ rating.Range, p []string) ([]rating.Row, error) {
		return fn(ctx, s, p[0])
	}, param)
}

func (h *ratingHandler) ranged(fn rangeFn) http.HandlerFunc {
	return h.serve(true, func(ctx context.Context, s tenant.Scope, rng rating.Range, _ []string) ([]rating.Row, error) {
		return fn(ctx, s, rng)
	})
}

func (h *ratingHandler) ranged1(param string, fn range1Fn) http.HandlerFunc {
	return h.serve(true, func(ctx context.Context, s tenant.Scope, rng rating.Range, p []string) ([]rating.Row, error) {
		return fn(ctx, s, p[0], rng)
	}, param)
}

func (h *ratingHandler) ranged2(a, b string, fn range2Fn) http.HandlerFunc {
	return h.serve(true, func(ctx context.Context, s tenant.Scope, rng rating.Range, p []string) ([]rating.Row, error) {
		return fn(ctx, s, p[0], p[1], rng)
	}, a, b)
}

// calendar serves the daily, weekly and monthly buckets of a dimension. The
// value "rating" selects every value of the dimension at once.
func (h *ratingHandler) calendar(dim rating.Dimension, param string) http.HandlerFunc {
	return h.serve(false, func(ctx context.Context, s tenant.Scope, _ rating.Range, p []string) ([]rating.Row, error) {
		return h.engine.Calendar(ctx, s, dim, p[0], p[1])
	}, param, "aggregator")
}

// serve validates the named URL parameters and, when withRange is set, the
// start and end query parameters, then runs call within the caller's scope.
func (h *ratingHandler) serve(withRange bool, call boundCall, params ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := make([]string, len(params))
		for i, name := range params {
			v := chi.URLParam(r, name)
			if err := rating.ValidateParam(name, v); err != nil {
				writeStoreError(w, err)
				return
			}
			values[i] = v
		}

		var rng rating.Range
		if withRange {
			var err error
			q := r.URL.Query()
			rng, err = h.ranges.Parse(q.Get("start"), q.Get("end"), h.engine.Now())
			if err != nil {
				writeStoreError(w, err)
				return
			}
		}

		scope, err := resolveScope(r, h.resolver)
		if err != nil {
			writeStoreError(w, err, "route", routePattern(r))
			return
		}

		rows, err := call(r.Context(), scope, rng, values)
		if err != nil {
			writeStoreError(w, err, "route", routePattern(r))
			return
		}
		writeResults(w, rows)
	}
}
