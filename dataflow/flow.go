package dataflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// Connector binds assemblies to taps using one execution config.
type Connector struct {
	cfg     Config
	logger  log.Logger
	metrics *Metrics
}

func NewConnector(cfg Config, logger log.Logger, metrics *Metrics) *Connector {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Connector{cfg: cfg, logger: logger, metrics: metrics}
}

// Stats summarizes a completed flow.
type Stats struct {
	TuplesRead int64
	// Dropped counts skipped tuples by pipe name.
	Dropped map[string]int64
	// Groups counts reduced groups by GroupBy name.
	Groups map[string]int64
	// Written counts tuples by sink name.
	Written  map[string]int64
	Duration time.Duration
}

// Flow is a connected assembly ready to run.
type Flow struct {
	cfg     Config
	logger  log.Logger
	metrics *Metrics

	source Source
	heads  []*node
	groups [][]*node // GroupBy nodes by reduce round
	sinks  []*sinkBinding

	read atomic.Int64
}

type node struct {
	pipe     *Pipe
	fields   Fields
	children []*node
	everies  []*node
	level    int
	sink     *sinkBinding
	keyIdx   []int
	shuffle  *shuffle
	dropped  atomic.Int64
	grouped  atomic.Int64
}

type sinkBinding struct {
	name    string
	sink    Sink
	fields  Fields
	written atomic.Int64

	mu sync.Mutex
	w  SinkWriter
}

func (b *sinkBinding) write(values []any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.w.Write(values); err != nil {
		return fmt.Errorf("sink %s: %w", b.name, err)
	}
	b.written.Add(1)
	return nil
}

// Connect validates the assembly ending in tails and binds every tail to
// the sink of the same name.
func (c *Connector) Connect(source Source, sinks map[string]Sink, tails ...*Pipe) (*Flow, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(tails) == 0 {
		return nil, errors.New("flow has no tails")
	}

	f := &Flow{cfg: c.cfg, logger: c.logger, metrics: c.metrics, source: source}
	nodes := make(map[*Pipe]*node)

	var build func(p *Pipe) (*node, error)
	build = func(p *Pipe) (*node, error) {
		if n, ok := nodes[p]; ok {
			return n, nil
		}
		n := &node{pipe: p}
		parents := make([]*node, len(p.parents))
		for i, pp := range p.parents {
			pn, err := build(pp)
			if err != nil {
				return nil, err
			}
			parents[i] = pn
			n.level = max(n.level, pn.level)
		}

		switch p.kind {
		case kindHead:
			n.fields = source.Fields()
			f.heads = append(f.heads, n)
		case kindEach:
			if p.selector == All {
				fields, err := parents[0].fields.Append(p.fn.Fields())
				if err != nil {
					return nil, fmt.Errorf("pipe %s: %w", p.name, err)
				}
				n.fields = fields
			} else {
				n.fields = p.fn.Fields()
			}
		case kindGroupBy:
			n.fields = parents[0].fields
			for _, k := range p.keys {
				i := n.fields.Index(k)
				if i < 0 {
					return nil, fmt.Errorf("group %s: unknown key field %q", p.name, k)
				}
				n.keyIdx = append(n.keyIdx, i)
			}
			n.level++
			for len(f.groups) < n.level {
				f.groups = append(f.groups, nil)
			}
			f.groups[n.level-1] = append(f.groups[n.level-1], n)
		case kindEvery:
			if parents[0].pipe.kind != kindGroupBy {
				return nil, fmt.Errorf("pipe %s: every must follow a group by", p.name)
			}
			fields, err := parents[0].pipe.keys.Append(p.agg.Fields())
			if err != nil {
				return nil, fmt.Errorf("pipe %s: %w", p.name, err)
			}
			n.fields = fields
			parents[0].everies = append(parents[0].everies, n)
		case kindMerge:
			if len(parents) == 0 {
				return nil, fmt.Errorf("merge %s has no pipes", p.name)
			}
			n.fields = parents[0].fields
			for _, pn := range parents[1:] {
				if !pn.fields.Equal(n.fields) {
					return nil, fmt.Errorf("merge %s: fields %v do not match %v", p.name, pn.fields, n.fields)
				}
			}
		}

		for _, pn := range parents {
			pn.children = append(pn.children, n)
		}
		nodes[p] = n
		return n, nil
	}

	bound := make(map[string]bool)
	for _, tail := range tails {
		n, err := build(tail)
		if err != nil {
			return nil, err
		}
		sink, ok := sinks[tail.name]
		if !ok {
			return nil, fmt.Errorf("no sink for tail %s", tail.name)
		}
		if bound[tail.name] {
			return nil, fmt.Errorf("sink %s bound to more than one tail", tail.name)
		}
		bound[tail.name] = true
		n.sink = &sinkBinding{name: tail.name, sink: sink, fields: n.fields}
		f.sinks = append(f.sinks, n.sink)
	}
	for name := range sinks {
		if !bound[name] {
			return nil, fmt.Errorf("sink %s has no tail", name)
		}
	}
	if len(f.heads) == 0 {
		return nil, errors.New("flow has no head pipe")
	}

	return f, nil
}

// Complete runs the flow and blocks until every sink is written.
func (f *Flow) Complete(ctx context.Context) (Stats, error) {
	start := time.Now()

	dir, err := os.MkdirTemp(f.cfg.tempDir(), "dataflow-")
	if err != nil {
		return Stats{}, fmt.Errorf("creating spill directory: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, round := range f.groups {
		for _, n := range round {
			n.shuffle = newShuffle(n.pipe.name, n.keyIdx, f.cfg.Reducers, f.cfg.SortBuffer, dir, f.metrics)
		}
	}

	for _, b := range f.sinks {
		w, err := b.sink.Open(ctx, b.fields)
		if err != nil {
			f.closeSinks()
			return Stats{}, fmt.Errorf("opening sink %s: %w", b.name, err)
		}
		b.w = w
	}

	if err := f.run(ctx); err != nil {
		f.closeSinks()
		return Stats{}, err
	}
	if err := f.closeSinks(); err != nil {
		return Stats{}, err
	}

	stats := f.stats(time.Since(start))
	level.Info(f.logger).Log("msg", "flow completed", "tuples_read", stats.TuplesRead, "duration", stats.Duration)
	for name, n := range stats.Written {
		level.Debug(f.logger).Log("msg", "sink written", "sink", name, "tuples", n)
	}
	return stats, nil
}

func (f *Flow) run(ctx context.Context) error {
	if err := f.mapPhase(ctx); err != nil {
		return err
	}
	for round, groups := range f.groups {
		for _, n := range groups {
			level.Debug(f.logger).Log("msg", "reducing group", "group", n.pipe.name, "round", round+1)
			if err := f.reduce(ctx, n); err != nil {
				return fmt.Errorf("group %s: %w", n.pipe.name, err)
			}
		}
	}
	return nil
}

func (f *Flow) mapPhase(ctx context.Context) error {
	it, err := f.source.Open(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []Tuple, f.cfg.Workers)

	g.Go(func() error {
		defer close(batches)
		batch := make([]Tuple, 0, f.cfg.BatchSize)
		send := func() error {
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
			batch = make([]Tuple, 0, f.cfg.BatchSize)
			return nil
		}
		for {
			t, err := it.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			f.read.Add(1)
			f.metrics.linesRead.Inc()
			batch = append(batch, t)
			if len(batch) == f.cfg.BatchSize {
				if err := send(); err != nil {
					return err
				}
			}
		}
		if len(batch) > 0 {
			return send()
		}
		return nil
	})

	for i := 0; i < f.cfg.Workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				if err := gctx.Err(); err != nil {
					return err
				}
				for _, t := range batch {
					for _, h := range f.heads {
						if err := f.push(h, t); err != nil {
							return err
						}
					}
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (f *Flow) push(n *node, t Tuple) error {
	switch n.pipe.kind {
	case kindHead, kindMerge:
		return f.forward(n, Tuple{Fields: n.fields, Values: t.Values})
	case kindEach:
		var emitted [][]any
		err := n.pipe.fn.Operate(t, func(values []any) {
			emitted = append(emitted, values)
		})
		if errors.Is(err, ErrSkip) {
			n.dropped.Add(1)
			f.metrics.tuplesDropped.WithLabelValues(n.pipe.name).Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipe %s: %w", n.pipe.name, err)
		}
		for _, v := range emitted {
			values := v
			if n.pipe.selector == All {
				values = make([]any, 0, len(t.Values)+len(v))
				values = append(append(values, t.Values...), v...)
			}
			if len(values) != len(n.fields) {
				return fmt.Errorf("pipe %s: emitted %d values for %d fields", n.pipe.name, len(values), len(n.fields))
			}
			if err := f.forward(n, Tuple{Fields: n.fields, Values: values}); err != nil {
				return err
			}
		}
		return nil
	case kindGroupBy:
		return n.shuffle.add(t.Values)
	default:
		return fmt.Errorf("pipe %s: cannot push into %s", n.pipe.name, n.pipe.kind)
	}
}

// forward hands t to the sink of n and to its children. Every pipes are
// fed by reduce, not here.
func (f *Flow) forward(n *node, t Tuple) error {
	if n.sink != nil {
		if err := n.sink.write(t.Values); err != nil {
			return err
		}
		f.metrics.tuplesWritten.WithLabelValues(n.sink.name).Inc()
	}
	for _, c := range n.children {
		if c.pipe.kind == kindEvery {
			continue
		}
		if err := f.push(c, t); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flow) reduce(ctx context.Context, n *node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Reducers)
	for _, p := range n.shuffle.parts {
		g.Go(func() error {
			return f.reducePartition(gctx, n, p)
		})
	}
	return g.Wait()
}

func (f *Flow) reducePartition(ctx context.Context, n *node, p *sortPartition) error {
	var (
		started bool
		key     []byte
		first   []any
		accs    = make([]Accumulator, len(n.everies))
	)

	flush := func() error {
		if !started {
			return nil
		}
		n.grouped.Add(1)
		f.metrics.groups.WithLabelValues(n.pipe.name).Inc()
		for i, e := range n.everies {
			values := make([]any, 0, len(e.fields))
			for _, idx := range n.keyIdx {
				values = append(values, first[idx])
			}
			values = append(values, accs[i].Result()...)
			if err := f.forward(e, Tuple{Fields: e.fields, Values: values}); err != nil {
				return err
			}
		}
		return nil
	}

	err := p.each(func(entry shuffleEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started || !bytes.Equal(entry.Key, key) {
			if err := flush(); err != nil {
				return err
			}
			started, key, first = true, entry.Key, entry.Values
			for i, e := range n.everies {
				accs[i] = e.pipe.agg.Start()
			}
		}
		t := Tuple{Fields: n.fields, Values: entry.Values}
		for _, a := range accs {
			a.Add(t)
		}
		return f.forward(n, t)
	})
	if err != nil {
		return err
	}
	return flush()
}

func (f *Flow) closeSinks() error {
	var firstErr error
	for _, b := range f.sinks {
		if b.w == nil {
			continue
		}
		if err := b.w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing sink %s: %w", b.name, err)
		}
		b.w = nil
	}
	return firstErr
}

func (f *Flow) stats(d time.Duration) Stats {
	s := Stats{
		TuplesRead: f.read.Load(),
		Dropped:    make(map[string]int64),
		Groups:     make(map[string]int64),
		Written:    make(map[string]int64),
		Duration:   d,
	}
	seen := make(map[*node]bool)
	var walk func(n *node)
	walk = func(n *node) {
		if seen[n] {
			return
		}
		seen[n] = true
		switch n.pipe.kind {
		case kindEach:
			s.Dropped[n.pipe.name] += n.dropped.Load()
		case kindGroupBy:
			s.Groups[n.pipe.name] += n.grouped.Load()
		}
		if n.sink != nil {
			s.Written[n.sink.name] = n.sink.written.Load()
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	for _, h := range f.heads {
		walk(h)
	}
	return s
}
