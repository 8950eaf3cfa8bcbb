package dataflow

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// encodeKey serializes the values at idx so that two keys are equal iff
// their encodings are byte-equal.
func encodeKey(dst []byte, values []any, idx []int) []byte {
	for _, i := range idx {
		switch v := values[i].(type) {
		case int32:
			dst = append(dst, 1)
			dst = binary.BigEndian.AppendUint32(dst, uint32(v)^(1<<31))
		case int64:
			dst = append(dst, 2)
			dst = binary.BigEndian.AppendUint64(dst, uint64(v)^(1<<63))
		case float32:
			dst = append(dst, 3)
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
		case float64:
			dst = append(dst, 4)
			dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(v))
		case string:
			dst = append(dst, 5)
			dst = binary.AppendUvarint(dst, uint64(len(v)))
			dst = append(dst, v...)
		default:
			s := fmt.Sprintf("%T:%v", v, v)
			dst = append(dst, 6)
			dst = binary.AppendUvarint(dst, uint64(len(s)))
			dst = append(dst, s...)
		}
	}
	return dst
}

type shuffleEntry struct {
	Key    []byte
	Values []any
}

// shuffle routes the tuples of one GroupBy into hash partitions.
type shuffle struct {
	keyIdx []int
	parts  []*sortPartition
}

func newShuffle(name string, keyIdx []int, partitions, bufferSize int, dir string, m *Metrics) *shuffle {
	s := &shuffle{keyIdx: keyIdx, parts: make([]*sortPartition, partitions)}
	for i := range s.parts {
		s.parts[i] = &sortPartition{
			name:  name,
			limit: bufferSize,
			dir:   dir,
			file:  fmt.Sprintf("%s-%03d", name, i),
			m:     m,
		}
	}
	return s
}

func (s *shuffle) add(values []any) error {
	key := encodeKey(nil, values, s.keyIdx)
	p := s.parts[xxhash.Sum64(key)%uint64(len(s.parts))]
	return p.add(shuffleEntry{Key: key, Values: values})
}

// sortPartition buffers entries and spills them as sorted runs once the
// buffer is full.
type sortPartition struct {
	name  string
	limit int
	dir   string
	file  string
	m     *Metrics

	mu   sync.Mutex
	buf  []shuffleEntry
	runs []string
}

func (p *sortPartition) add(e shuffleEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, e)
	p.m.tuplesShuffled.WithLabelValues(p.name).Inc()
	if len(p.buf) < p.limit {
		return nil
	}
	return p.spill()
}

func sortEntries(entries []shuffleEntry) {
	slices.SortStableFunc(entries, func(a, b shuffleEntry) int {
		return bytes.Compare(a.Key, b.Key)
	})
}

func (p *sortPartition) spill() error {
	sortEntries(p.buf)

	path := filepath.Join(p.dir, fmt.Sprintf("%s.run%04d", p.file, len(p.runs)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating spill file: %w", err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return fmt.Errorf("creating spill encoder: %w", err)
	}
	enc := gob.NewEncoder(zw)
	for _, e := range p.buf {
		if err := enc.Encode(e); err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("spilling tuple: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flushing spill file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing spill file: %w", err)
	}

	p.runs = append(p.runs, path)
	p.buf = p.buf[:0]
	p.m.spills.WithLabelValues(p.name).Inc()
	return nil
}

// each calls fn for every entry in key order, merging the spilled runs
// with what is still buffered. The partition is empty afterwards.
func (p *sortPartition) each(fn func(e shuffleEntry) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sortEntries(p.buf)
	h := &mergeHeap{}
	h.push(&sliceCursor{entries: p.buf})

	var runs []*runCursor
	defer func() {
		for _, r := range runs {
			r.close()
		}
		for _, path := range p.runs {
			os.Remove(path)
		}
		p.runs = nil
		p.buf = nil
	}()
	for _, path := range p.runs {
		r, err := openRun(path)
		if err != nil {
			return err
		}
		runs = append(runs, r)
		h.push(r)
	}
	if err := h.init(); err != nil {
		return err
	}

	for h.Len() > 0 {
		c := (*h)[0]
		if err := fn(c.current()); err != nil {
			return err
		}
		ok, err := c.advance()
		if err != nil {
			return err
		}
		if ok {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return nil
}

type cursor interface {
	current() shuffleEntry
	// advance moves to the next entry and reports whether there is one.
	advance() (bool, error)
}

type sliceCursor struct {
	entries []shuffleEntry
	pos     int
}

func (c *sliceCursor) current() shuffleEntry { return c.entries[c.pos] }

func (c *sliceCursor) advance() (bool, error) {
	c.pos++
	return c.pos < len(c.entries), nil
}

type runCursor struct {
	f   *os.File
	zr  *zstd.Decoder
	dec *gob.Decoder
	cur shuffleEntry
}

func openRun(path string) (*runCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening spill file: %w", err)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating spill decoder: %w", err)
	}
	return &runCursor{f: f, zr: zr, dec: gob.NewDecoder(zr)}, nil
}

func (c *runCursor) current() shuffleEntry { return c.cur }

func (c *runCursor) advance() (bool, error) {
	var e shuffleEntry
	if err := c.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("reading spill file: %w", err)
	}
	c.cur = e
	return true, nil
}

func (c *runCursor) close() {
	c.zr.Close()
	c.f.Close()
}

// mergeHeap orders cursors by their current key.
type mergeHeap []cursor

func (h *mergeHeap) push(c cursor) { *h = append(*h, c) }

// init positions every cursor on its first entry, drops the empty ones
// and establishes the heap order.
func (h *mergeHeap) init() error {
	live := (*h)[:0]
	for _, c := range *h {
		if sc, ok := c.(*sliceCursor); ok {
			if len(sc.entries) > 0 {
				live = append(live, c)
			}
			continue
		}
		ok, err := c.advance()
		if err != nil {
			return err
		}
		if ok {
			live = append(live, c)
		}
	}
	*h = live
	heap.Init(h)
	return nil
}

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	return bytes.Compare(h[i].current().Key, h[j].current().Key) < 0
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(cursor)) }

func (h *mergeHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
