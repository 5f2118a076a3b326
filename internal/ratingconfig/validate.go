package ratingconfig

import (
	"fmt"
	"sort"
)

// ValidationError reports a configuration document that does not match the
// expected schema. Nothing is written when it is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParseMetrics validates a decoded metrics document (JSON or YAML) and
// returns its typed form.
func ParseMetrics(raw any) (map[string]MetricDef, error) {
	doc, ok := asMap(raw)
	if !ok {
		return nil, invalid("Wrong type for metrics, expected dict got %s", typeName(raw))
	}
	if len(doc) == 0 {
		return nil, invalid("No configuration provided for metrics")
	}

	out := make(map[string]MetricDef, len(doc))
	for _, name := range sortedKeys(doc) {
		entry, ok := asMap(doc[name])
		if !ok {
			return nil, invalid("Wrong parameter for metric config %s, expected dict", name)
		}
		column, ok1 := entry["presto_column"].(string)
		table, ok2 := entry["presto_table"].(string)
		report, ok3 := entry["report_name"].(string)
		unit, ok4 := entry["unit"].(string)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, invalid("Wrong parameter for metric config %s, got [%v,%v,%v,%v]",
				name, entry["presto_column"], entry["presto_table"], entry["report_name"], entry["unit"])
		}
		out[name] = MetricDef{PrestoColumn: column, PrestoTable: table, ReportName: report, Unit: unit}
	}
	return out, nil
}

// ParseRules validates a decoded rules document and returns its typed form.
func ParseRules(raw any) ([]RuleGroup, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, invalid("Wrong type for rules, expected list got %s", typeName(raw))
	}
	if len(list) == 0 {
		return nil, invalid("No configuration provided for rules")
	}

	groups := make([]RuleGroup, 0, len(list))
	for i, item := range list {
		entry, ok := asMap(item)
		if !ok {
			return nil, invalid("Wrong parameter type for rule group %d, expected dict", i)
		}

		group := RuleGroup{}
		if name, ok := entry["name"].(string); ok {
			group.Name = name
		}

		if rawLabels, present := entry["labelSet"]; present && rawLabels != nil {
			labels, ok := asMap(rawLabels)
			if !ok {
				return nil, invalid("Wrong parameter type for ruleset or labelSet")
			}
			group.LabelSet = make(map[string]string, len(labels))
			for k, v := range labels {
				value, ok := v.(string)
				if !ok {
					return nil, invalid("Wrong type for labelSet value %q, expected string", k)
				}
				group.LabelSet[k] = value
			}
		}

		ruleset, ok := entry["ruleset"].([]any)
		if !ok {
			return nil, invalid("Wrong parameter type for ruleset or labelSet")
		}
		if len(ruleset) == 0 {
			return nil, invalid("No configuration provided for ruleset config")
		}
		for _, r := range ruleset {
			rule, ok := asMap(r)
			if !ok {
				return nil, invalid("Wrong parameter for Rule entry")
			}
			metric, ok := rule["metric"].(string)
			value, okv := asNumber(rule["value"])
			if !ok || !okv {
				return nil, invalid("Wrong parameter for Rule entry")
			}
			unit, _ := rule["unit"].(string)
			group.Ruleset = append(group.Ruleset, RuleEntry{Metric: metric, Value: value, Unit: unit})
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// ParseDocuments validates both documents of a configuration.
func ParseDocuments(metrics, rules any) (map[string]MetricDef, []RuleGroup, error) {
	m, err := ParseMetrics(metrics)
	if err != nil {
		return nil, nil, err
	}
	r, err := ParseRules(rules)
	if err != nil {
		return nil, nil, err
	}
	return m, r, nil
}

// Validate checks a typed configuration before it is written.
func (c *Configuration) Validate() error {
	if c.Timestamp < 0 {
		return invalid("negative timestamp %d", c.Timestamp)
	}
	if err := validateMetrics(c.Metrics); err != nil {
		return err
	}
	return validateRules(c.Rules)
}

// Validate checks the documents present in a partial update.
func (p *Patch) Validate() error {
	if p.Metrics == nil && p.Rules == nil {
		return invalid("No configuration provided for update")
	}
	if p.Metrics != nil {
		if err := validateMetrics(p.Metrics); err != nil {
			return err
		}
	}
	if p.Rules != nil {
		if err := validateRules(p.Rules); err != nil {
			return err
		}
	}
	return nil
}

func validateMetrics(metrics map[string]MetricDef) error {
	if len(metrics) == 0 {
		return invalid("No configuration provided for metrics")
	}
	for name := range metrics {
		if name == "" {
			return invalid("Wrong parameter for metric config, empty metric name")
		}
	}
	return nil
}

func validateRules(rules []RuleGroup) error {
	if len(rules) == 0 {
		return invalid("No configuration provided for rules")
	}
	for _, g := range rules {
		if len(g.Ruleset) == 0 {
			return invalid("No configuration provided for ruleset config")
		}
		for _, r := range g.Ruleset {
			if r.Metric == "" {
				return invalid("Wrong parameter for Rule entry")
			}
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case []any:
		return "list"
	case map[string]any, map[any]any:
		return "dict"
	case string:
		return "string"
	case bool:
		return "bool"
	}
	if _, ok := asNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
