package tablespace

import (
	"math/rand/v2"
	"slices"

	"log-indexer/schema"
)

// Key is the value of a partition key, one value per key column.
type Key []any

// compareKeys orders keys column by column.
func compareKeys(types []schema.ColumnType, a, b Key) int {
	for i, t := range types {
		if c := t.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Sampler picks the keys from which partition boundaries are computed.
// Generate calls Reset, offers the key of every row of every table and
// then reads Sample.
type Sampler interface {
	Reset()
	Offer(k Key)
	Sample() []Key
}

// Reservoir samples size keys uniformly from the whole dataset.
func Reservoir(size int, rnd *rand.Rand) Sampler {
	return &reservoir{size: size, rnd: rnd}
}

type reservoir struct {
	size int
	rnd  *rand.Rand
	seen int64
	keys []Key
}

func (r *reservoir) Reset() {
	r.seen, r.keys = 0, nil
}

func (r *reservoir) Offer(k Key) {
	r.seen++
	if len(r.keys) < r.size {
		r.keys = append(r.keys, k)
		return
	}
	if j := r.rnd.Int64N(r.seen); j < int64(r.size) {
		r.keys[j] = k
	}
}

func (r *reservoir) Sample() []Key {
	return slices.Clone(r.keys)
}

// Head keeps the first size keys. It is only representative of sorted or
// uniformly shuffled inputs.
func Head(size int) Sampler {
	return &head{size: size}
}

type head struct {
	size int
	keys []Key
}

func (h *head) Reset() {
	h.keys = nil
}

func (h *head) Offer(k Key) {
	if len(h.keys) < h.size {
		h.keys = append(h.keys, k)
	}
}

func (h *head) Sample() []Key {
	return slices.Clone(h.keys)
}

// boundaries returns at most n-1 strictly increasing split points taken at
// the quantiles of sample. Partition i holds the keys in
// [boundaries[i-1], boundaries[i]).
func boundaries(types []schema.ColumnType, sample []Key, n int) []Key {
	if len(sample) == 0 || n < 2 {
		return nil
	}
	sorted := slices.Clone(sample)
	slices.SortFunc(sorted, func(a, b Key) int { return compareKeys(types, a, b) })

	var out []Key
	for i := 1; i < n; i++ {
		b := sorted[i*len(sorted)/n]
		if compareKeys(types, b, sorted[0]) == 0 {
			continue
		}
		if len(out) > 0 && compareKeys(types, b, out[len(out)-1]) == 0 {
			continue
		}
		out = append(out, b)
	}
	return out
}

// partitionOf returns the index of the partition holding k.
func partitionOf(types []schema.ColumnType, bounds []Key, k Key) int {
	i, _ := slices.BinarySearchFunc(bounds, k, func(b, k Key) int {
		if compareKeys(types, b, k) <= 0 {
			return -1
		}
		return 1
	})
	return i
}
