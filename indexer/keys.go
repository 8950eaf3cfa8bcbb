package indexer

import (
	"errors"
	"fmt"
	"slices"

	"log-indexer/logformat"
)

// Metric labels of the built-in aggregations.
const (
	MetricAll          = "ALL"
	MetricIP           = "IP"
	MetricPage         = "PAGE"
	MetricCode         = "CODE"
	MetricUser         = "USER"
	MetricCategory     = "CATEGORY"
	MetricUserCategory = "USER_CATEGORY"
)

var metricFields = map[string][]string{
	MetricAll:          nil,
	MetricIP:           {logformat.FieldIP},
	MetricPage:         {logformat.FieldPage},
	MetricCode:         {logformat.FieldCode},
	MetricUser:         {logformat.FieldUser},
	MetricCategory:     {logformat.FieldCategory},
	MetricUserCategory: {logformat.FieldUser, logformat.FieldCategory},
}

// AggregationKey is one grouping granularity. Records are always grouped
// by day, month and year first, then by Fields. Metric labels the rows the
// key produces.
type AggregationKey struct {
	Metric string   `yaml:"metric"`
	Fields []string `yaml:"group_by"`
}

// Key returns the built-in aggregation for metric.
func Key(metric string) (AggregationKey, error) {
	fields, ok := metricFields[metric]
	if !ok {
		return AggregationKey{}, fmt.Errorf("unknown metric %q", metric)
	}
	return AggregationKey{Metric: metric, Fields: slices.Clone(fields)}, nil
}

// DefaultKeys are the ALL, IP, PAGE and CODE aggregations.
func DefaultKeys() []AggregationKey {
	keys := make([]AggregationKey, 0, 4)
	for _, m := range []string{MetricAll, MetricIP, MetricPage, MetricCode} {
		k, _ := Key(m)
		keys = append(keys, k)
	}
	return keys
}

// ResolveKeys fills in the fields of built-in metrics that were given by
// label only.
func ResolveKeys(keys []AggregationKey) []AggregationKey {
	out := make([]AggregationKey, len(keys))
	for i, k := range keys {
		if fields, ok := metricFields[k.Metric]; ok && len(k.Fields) == 0 {
			k.Fields = slices.Clone(fields)
		}
		out[i] = k
	}
	return out
}

// ValidateKeys checks that labels are unique and that every grouped field
// is produced by format.
func ValidateKeys(format *logformat.Format, keys []AggregationKey) error {
	if len(keys) == 0 {
		return errors.New("no aggregations configured")
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k.Metric == "" {
			return errors.New("aggregation without metric label")
		}
		if seen[k.Metric] {
			return fmt.Errorf("duplicate metric %s", k.Metric)
		}
		seen[k.Metric] = true

		for i, f := range k.Fields {
			if slices.Contains(dateFields, f) {
				return fmt.Errorf("metric %s: %s is always grouped", k.Metric, f)
			}
			if !format.Has(f) {
				return fmt.Errorf("metric %s: field %s is not produced by the log format", k.Metric, f)
			}
			if slices.Contains(k.Fields[:i], f) {
				return fmt.Errorf("metric %s: field %s repeated", k.Metric, f)
			}
		}
	}
	return nil
}
