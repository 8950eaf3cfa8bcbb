package dataflow

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-indexer/storage"
)

type sliceSource struct {
	fields Fields
	rows   [][]any
}

func linesSource(lines ...string) *sliceSource {
	s := &sliceSource{fields: TextLineFields}
	var off int64
	for _, l := range lines {
		s.rows = append(s.rows, []any{off, l})
		off += int64(len(l)) + 1
	}
	return s
}

func (s *sliceSource) Fields() Fields { return s.fields }

func (s *sliceSource) Open(context.Context) (TupleIterator, error) {
	return &sliceIterator{src: s}, nil
}

type sliceIterator struct {
	src *sliceSource
	pos int
}

func (it *sliceIterator) Next() (Tuple, error) {
	if it.pos == len(it.src.rows) {
		return Tuple{}, io.EOF
	}
	it.pos++
	return Tuple{Fields: it.src.fields, Values: it.src.rows[it.pos-1]}, nil
}

func (it *sliceIterator) Close() error { return nil }

type memSink struct {
	name   string
	mu     sync.Mutex
	fields Fields
	rows   [][]any
	closed bool
}

func (s *memSink) Identifier() string { return s.name }

func (s *memSink) Open(_ context.Context, fields Fields) (SinkWriter, error) {
	s.fields, s.rows, s.closed = fields, nil, false
	return s, nil
}

func (s *memSink) Write(values []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, slices.Clone(values))
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

// sorted returns the rows ordered by their string form.
func (s *memSink) sorted() []string {
	out := make([]string, 0, len(s.rows))
	for _, r := range s.rows {
		parts := make([]string, len(r))
		for i, v := range r {
			parts[i] = fmt.Sprint(v)
		}
		out = append(out, strings.Join(parts, " "))
	}
	slices.Sort(out)
	return out
}

type splitWords struct{}

func (splitWords) Fields() Fields { return Fields{"word"} }

func (splitWords) Operate(in Tuple, emit func([]any)) error {
	line := in.Get("line").(string)
	if strings.TrimSpace(line) == "" {
		return ErrSkip
	}
	for _, w := range strings.Fields(line) {
		emit([]any{w})
	}
	return nil
}

type lineLength struct{}

func (lineLength) Fields() Fields { return Fields{"length"} }

func (lineLength) Operate(in Tuple, emit func([]any)) error {
	emit([]any{int32(len(in.Get("line").(string)))})
	return nil
}

type upper struct{}

func (upper) Fields() Fields { return Fields{"word"} }

func (upper) Operate(in Tuple, emit func([]any)) error {
	emit([]any{strings.ToUpper(in.Get("word").(string))})
	return nil
}

func testConfig(t *testing.T) Config {
	return Config{Workers: 3, Reducers: 2, SortBuffer: 2, BatchSize: 2, TempDir: t.TempDir()}
}

func TestFlowWordCount(t *testing.T) {
	words := NewPipe("words").Each(splitWords{}, Results)
	counts := words.GroupBy("counts", "word").Every(Count{})

	sink := &memSink{name: "counts"}
	flow, err := NewConnector(testConfig(t), log.NewNopLogger(), nil).
		Connect(linesSource("a b a", "", "c a", "b"), map[string]Sink{"counts": sink}, counts)
	require.NoError(t, err)

	stats, err := flow.Complete(context.Background())
	require.NoError(t, err)

	assert.True(t, sink.closed)
	assert.Equal(t, Fields{"word", "count"}, sink.fields)
	assert.Equal(t, []string{"a 3", "b 2", "c 1"}, sink.sorted())
	assert.Equal(t, int64(4), stats.TuplesRead)
	assert.Equal(t, int64(1), stats.Dropped["words"])
	assert.Equal(t, int64(3), stats.Groups["counts"])
	assert.Equal(t, int64(3), stats.Written["counts"])
}

func TestFlowChainedGroups(t *testing.T) {
	counts := NewPipe("words").Each(splitWords{}, Results).
		GroupBy("counts", "word").Every(Count{})
	histogram := counts.GroupBy("histogram", "count").Every(Count{Field: "words"})

	sink := &memSink{name: "histogram"}
	flow, err := NewConnector(testConfig(t), log.NewNopLogger(), nil).
		Connect(linesSource("a b", "c a", "d"), map[string]Sink{"histogram": sink}, histogram)
	require.NoError(t, err)

	_, err = flow.Complete(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Fields{"count", "words"}, sink.fields)
	assert.Equal(t, [][]any{{int64(1), int64(3)}, {int64(2), int64(1)}}, sortedByFirst(sink.rows))
}

func sortedByFirst(rows [][]any) [][]any {
	slices.SortFunc(rows, func(a, b []any) int {
		return int(a[0].(int64) - b[0].(int64))
	})
	return rows
}

func TestFlowMergeAndTwoTails(t *testing.T) {
	words := NewPipe("words").Each(splitWords{}, Results)
	shouted := NewPipe("shouted").Each(splitWords{}, Results).Each(upper{}, Results)
	all := Merge("all", words, shouted)
	lengths := NewPipe("lengths").Each(lineLength{}, All)

	allSink := &memSink{name: "all"}
	lengthSink := &memSink{name: "lengths"}
	flow, err := NewConnector(testConfig(t), log.NewNopLogger(), nil).Connect(
		linesSource("a b", "c"),
		map[string]Sink{"all": allSink, "lengths": lengthSink},
		all, lengths,
	)
	require.NoError(t, err)

	stats, err := flow.Complete(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "a", "b", "c"}, allSink.sorted())
	assert.Equal(t, Fields{"offset", "line", "length"}, lengthSink.fields)
	assert.ElementsMatch(t, [][]any{{int64(0), "a b", int32(3)}, {int64(4), "c", int32(1)}}, lengthSink.rows)
	assert.Equal(t, int64(6), stats.Written["all"])
	assert.Equal(t, int64(2), stats.Written["lengths"])
}

type failing struct{}

func (failing) Fields() Fields { return Fields{"x"} }

func (failing) Operate(Tuple, func([]any)) error { return fmt.Errorf("boom") }

func TestFlowFunctionError(t *testing.T) {
	p := NewPipe("bad").Each(failing{}, Results)
	flow, err := NewConnector(testConfig(t), log.NewNopLogger(), nil).
		Connect(linesSource("a"), map[string]Sink{"bad": &memSink{}}, p)
	require.NoError(t, err)

	_, err = flow.Complete(context.Background())
	assert.ErrorContains(t, err, "pipe bad: boom")
}

func TestConnectErrors(t *testing.T) {
	words := NewPipe("words").Each(splitWords{}, Results)

	for _, tc := range []struct {
		name  string
		sinks []string
		tails []*Pipe
	}{
		{"no tails", nil, nil},
		{"missing sink", nil, []*Pipe{words}},
		{"unused sink", []string{"words", "other"}, []*Pipe{words}},
		{"unknown key", []string{"g"}, []*Pipe{words.GroupBy("g", "nope").Every(Count{})}},
		{"every without group", []string{"words"}, []*Pipe{words.Every(Count{})}},
		{"merge mismatch", []string{"m"}, []*Pipe{Merge("m", words, NewPipe("raw"))}},
		{"duplicate field", []string{"raw"}, []*Pipe{NewPipe("raw").Each(lineLength{}, All).Each(lineLength{}, All)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sinks := make(map[string]Sink)
			for _, s := range tc.sinks {
				sinks[s] = &memSink{name: s}
			}
			_, err := NewConnector(testConfig(t), log.NewNopLogger(), nil).
				Connect(linesSource("a"), sinks, tc.tails...)
			assert.Error(t, err)
		})
	}
}

func TestConnectRejectsBadConfig(t *testing.T) {
	_, err := NewConnector(Config{}, log.NewNopLogger(), nil).
		Connect(linesSource("a"), map[string]Sink{"raw": &memSink{}}, NewPipe("raw"))
	assert.Error(t, err)
}

func TestTextLineToTupleSink(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocal(t.TempDir())
	require.NoError(t, store.Write(ctx, "in/a.log", strings.NewReader("first\r\nsecond\nthird")))
	require.NoError(t, store.Write(ctx, "out/stale", strings.NewReader("old")))

	cfg := testConfig(t)
	cfg.Workers = 1
	flow, err := NewConnector(cfg, log.NewNopLogger(), nil).Connect(
		TextLine(store, "in"),
		map[string]Sink{"copy": TupleSink(store, "out")},
		NewPipe("copy"),
	)
	require.NoError(t, err)
	_, err = flow.Complete(ctx)
	require.NoError(t, err)

	files, err := store.List(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/" + TuplePartFile}, files)

	it, err := OpenTuples(ctx, store, "out")
	require.NoError(t, err)
	defer it.Close()

	var got [][]any
	for {
		tp, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, tp.Values)
	}
	assert.Equal(t, [][]any{
		{int64(0), "first"},
		{int64(7), "second"},
		{int64(14), "third"},
	}, got)
}

func TestTextLineMissingInput(t *testing.T) {
	_, err := TextLine(storage.NewLocal(t.TempDir()), "nope").Open(context.Background())
	assert.Error(t, err)
}
