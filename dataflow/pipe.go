package dataflow

import "errors"

// ErrSkip is returned by a Function that drops its input tuple. The flow
// counts the tuple and carries on.
var ErrSkip = errors.New("dataflow: tuple skipped")

// Function transforms one tuple into zero or more tuples. Operate is
// called concurrently and must not retain or reuse the emitted slices.
type Function interface {
	// Fields declares the names of the emitted values.
	Fields() Fields
	Operate(in Tuple, emit func(values []any)) error
}

// Selector chooses the output fields of an Each pipe.
type Selector int

const (
	// Results keeps only the function's declared fields.
	Results Selector = iota
	// All appends the function's fields to the input fields.
	All
)

// Aggregator folds the tuples of one group into values.
type Aggregator interface {
	Fields() Fields
	Start() Accumulator
}

type Accumulator interface {
	Add(t Tuple)
	Result() []any
}

// Count counts the tuples of a group into an int64 field.
type Count struct {
	Field string
}

func (c Count) Fields() Fields {
	if c.Field == "" {
		return Fields{"count"}
	}
	return Fields{c.Field}
}

func (Count) Start() Accumulator {
	return new(countAccumulator)
}

type countAccumulator int64

func (c *countAccumulator) Add(Tuple) { *c++ }

func (c *countAccumulator) Result() []any { return []any{int64(*c)} }

type pipeKind int

const (
	kindHead pipeKind = iota
	kindEach
	kindGroupBy
	kindEvery
	kindMerge
)

func (k pipeKind) String() string {
	return [...]string{"head", "each", "groupby", "every", "merge"}[k]
}

// Pipe is one stage of an assembly. Pipes are immutable; every method
// returns a new pipe downstream of the receiver.
type Pipe struct {
	name     string
	kind     pipeKind
	parents  []*Pipe
	fn       Function
	selector Selector
	keys     Fields
	agg      Aggregator
}

// NewPipe starts an assembly reading the flow's source.
func NewPipe(name string) *Pipe {
	return &Pipe{name: name, kind: kindHead}
}

func (p *Pipe) Name() string {
	return p.name
}

// Each applies fn to every tuple.
func (p *Pipe) Each(fn Function, sel Selector) *Pipe {
	return &Pipe{name: p.name, kind: kindEach, parents: []*Pipe{p}, fn: fn, selector: sel}
}

// GroupBy groups tuples sharing the values of keys.
func (p *Pipe) GroupBy(name string, keys ...string) *Pipe {
	return &Pipe{name: name, kind: kindGroupBy, parents: []*Pipe{p}, keys: Fields(keys)}
}

// Every aggregates each group of a GroupBy pipe. The output carries the
// group keys followed by the aggregator's fields.
func (p *Pipe) Every(agg Aggregator) *Pipe {
	return &Pipe{name: p.name, kind: kindEvery, parents: []*Pipe{p}, agg: agg}
}

// Merge unions pipes declaring the same fields.
func Merge(name string, pipes ...*Pipe) *Pipe {
	return &Pipe{name: name, kind: kindMerge, parents: pipes}
}
