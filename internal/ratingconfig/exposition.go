package ratingconfig

import (
	"context"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveSource returns the configuration in force now.
type ActiveSource interface {
	Active(ctx context.Context) (*Version, error)
}

// RulesCollector exposes the rules of the active configuration as gauges,
// one sample per rule, labelled with its group's label set. Every sample
// carries the union of the label names used across groups.
type RulesCollector struct {
	source ActiveSource
}

// NewRulesCollector creates a collector reading from source.
func NewRulesCollector(source ActiveSource) *RulesCollector {
	return &RulesCollector{source: source}
}

// Describe sends nothing: the exposed series depend on the active
// configuration, so the collector is unchecked.
func (c *RulesCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect sends one gauge per rule of the active configuration.
func (c *RulesCollector) Collect(ch chan<- prometheus.Metric) {
	v, err := c.source.Active(context.Background())
	if err != nil {
		slog.Debug("no active rating configuration to expose", "error", err)
		return
	}
	for _, m := range RuleMetrics(v.Rules) {
		ch <- m
	}
}

// RuleMetrics converts rule groups into constant gauges. When two groups
// price the same metric for the same labels, the first one wins.
func RuleMetrics(groups []RuleGroup) []prometheus.Metric {
	labelNames := unionLabels(groups)

	seen := make(map[string]struct{})
	var out []prometheus.Metric
	for _, g := range groups {
		values := make([]string, len(labelNames))
		for i, name := range labelNames {
			values[i] = g.LabelSet[name]
		}
		for _, r := range g.Ruleset {
			key := r.Metric + "\xff" + joinValues(values)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			desc := prometheus.NewDesc(r.Metric, "Rating rule value.", labelNames, nil)
			m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, r.Value, values...)
			if err != nil {
				slog.Warn("skipping rule that cannot be exposed", "metric", r.Metric, "error", err)
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

func unionLabels(groups []RuleGroup) []string {
	set := make(map[string]struct{})
	for _, g := range groups {
		for k := range g.LabelSet {
			set[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func joinValues(values []string) string {
	out := ""
	for _, v := range values {
		out += v + "\xff"
	}
	return out
}
