package dataflow

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTupleFile(t *testing.T) {
	fields := NewFields("a", "b", "c", "d", "e")
	rows := [][]any{
		{int32(1), int64(-2), float32(1.5), float64(2.25), "x"},
		{int32(-7), int64(1 << 40), float32(0), float64(-1), ""},
	}

	var buf bytes.Buffer
	w, err := NewTupleWriter(&buf, fields)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())

	r, err := NewTupleReader(&buf)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, fields, r.Fields())

	for _, want := range rows {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got.Values)
		assert.Equal(t, fields, got.Fields)
	}
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestTupleWriterRejects(t *testing.T) {
	w, err := NewTupleWriter(io.Discard, NewFields("a", "b"))
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Write([]any{int32(1)}))
	assert.ErrorIs(t, w.Write([]any{int32(1), nil}), ErrNilValue)
}

func TestTupleReaderRejectsGarbage(t *testing.T) {
	_, err := NewTupleReader(bytes.NewReader([]byte("not a tuple file")))
	assert.Error(t, err)
}

func TestEncodeKeyOrder(t *testing.T) {
	key := func(v any) []byte { return encodeKey(nil, []any{v}, []int{0}) }

	assert.Negative(t, bytes.Compare(key(int32(-5)), key(int32(3))))
	assert.Negative(t, bytes.Compare(key(int64(-1)), key(int64(0))))
	assert.Equal(t, key("abc"), key("abc"))
	assert.NotEqual(t, key(int32(1)), key(int64(1)))
	// length prefixes keep ("ab","c") apart from ("a","bc")
	assert.NotEqual(t,
		encodeKey(nil, []any{"ab", "c"}, []int{0, 1}),
		encodeKey(nil, []any{"a", "bc"}, []int{0, 1}))
}

func TestShuffleSpillAndMerge(t *testing.T) {
	dir := t.TempDir()
	s := newShuffle("words", []int{0}, 2, 3, dir, NewMetrics(nil))

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, s.add([]any{fmt.Sprintf("k%02d", i%10), int64(i)}))
	}

	spilled, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, spilled)

	total := 0
	perKey := make(map[string]int)
	for _, p := range s.parts {
		var last []byte
		err := p.each(func(e shuffleEntry) error {
			assert.LessOrEqual(t, bytes.Compare(last, e.Key), 0, "keys out of order")
			last = e.Key
			perKey[e.Values[0].(string)]++
			total++
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, n, total)
	assert.Len(t, perKey, 10)
	for k, c := range perKey {
		assert.Equal(t, 5, c, k)
	}

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, left)
}
