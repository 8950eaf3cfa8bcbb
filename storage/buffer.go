package storage

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// MaxPutSize is the largest object a single PutObject call accepts.
const MaxPutSize = 5 << 30

var ErrBufferFull = errors.New("storage: object exceeds buffer limit")

// Buffer collects an object before upload. Writes past the limit fail
// and leave the buffer unchanged.
type Buffer struct {
	buf   bytes.Buffer
	limit int64
	mu    sync.Mutex
}

func NewBuffer(limit int64) *Buffer {
	return &Buffer{limit: limit}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && int64(b.buf.Len()+len(p)) > b.limit {
		return 0, ErrBufferFull
	}
	return b.buf.Write(p)
}

func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.buf.Len())
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *Buffer) Reader() io.Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.NewReader(b.buf.Bytes())
}
