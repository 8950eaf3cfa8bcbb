// Package dataflow runs batch pipelines assembled from pipes: a text
// source is parsed and filtered by Each pipes, grouped by GroupBy pipes
// through a hash-partitioned external sort, aggregated by Every pipes and
// written to sinks. Grouping never holds more than the configured sort
// buffer per shuffle partition in memory.
package dataflow

import (
	"fmt"
	"slices"
)

// Fields names the positions of a tuple.
type Fields []string

func NewFields(names ...string) Fields {
	return Fields(names)
}

// Index returns the position of name or -1.
func (f Fields) Index(name string) int {
	return slices.Index(f, name)
}

func (f Fields) Equal(o Fields) bool {
	return slices.Equal(f, o)
}

// Append returns f followed by o. Names must not repeat.
func (f Fields) Append(o Fields) (Fields, error) {
	out := make(Fields, 0, len(f)+len(o))
	out = append(out, f...)
	for _, name := range o {
		if f.Index(name) >= 0 {
			return nil, fmt.Errorf("field %q already declared", name)
		}
		out = append(out, name)
	}
	return out, nil
}

// Tuple is a row flowing between pipes. Values are positional and hold
// int32, int64, float32, float64 or string.
type Tuple struct {
	Fields Fields
	Values []any
}

// Get returns the value of the named field, or nil if it is not declared.
func (t Tuple) Get(name string) any {
	if i := t.Fields.Index(name); i >= 0 && i < len(t.Values) {
		return t.Values[i]
	}
	return nil
}
