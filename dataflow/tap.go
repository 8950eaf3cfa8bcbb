package dataflow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"log-indexer/storage"
)

// Source feeds the head pipes of a flow.
type Source interface {
	Fields() Fields
	Open(ctx context.Context) (TupleIterator, error)
}

// TupleIterator yields tuples until io.EOF.
type TupleIterator interface {
	Next() (Tuple, error)
	Close() error
}

// Sink receives the tuples of one tail pipe.
type Sink interface {
	// Open replaces any previous output.
	Open(ctx context.Context, fields Fields) (SinkWriter, error)
	Identifier() string
}

type SinkWriter interface {
	Write(values []any) error
	Close() error
}

// TextLineFields are the fields of a TextLine source. The offset is the
// byte position of the line in its file.
var TextLineFields = Fields{"offset", "line"}

type textLine struct {
	store storage.Storage
	path  string
}

// TextLine reads the lines of path, or of every file below path when it
// is a directory.
func TextLine(store storage.Storage, path string) Source {
	return &textLine{store: store, path: path}
}

func (t *textLine) Fields() Fields {
	return TextLineFields
}

func (t *textLine) Open(ctx context.Context) (TupleIterator, error) {
	files, err := t.store.List(ctx, t.path)
	if err != nil {
		return nil, fmt.Errorf("listing input: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("input %s: no such file", t.path)
	}
	return &lineIterator{ctx: ctx, store: t.store, files: files}, nil
}

type lineIterator struct {
	ctx    context.Context
	store  storage.Storage
	files  []string
	rc     io.ReadCloser
	br     *bufio.Reader
	offset int64
}

func (it *lineIterator) Next() (Tuple, error) {
	for {
		if it.br == nil {
			if len(it.files) == 0 {
				return Tuple{}, io.EOF
			}
			rc, err := it.store.Read(it.ctx, it.files[0])
			if err != nil {
				return Tuple{}, err
			}
			it.files = it.files[1:]
			it.rc, it.br, it.offset = rc, bufio.NewReaderSize(rc, 64*1024), 0
		}

		line, err := it.br.ReadString('\n')
		if len(line) > 0 {
			offset := it.offset
			it.offset += int64(len(line))
			line = trimEOL(line)
			return Tuple{Fields: TextLineFields, Values: []any{offset, line}}, nil
		}
		if errors.Is(err, io.EOF) {
			if err := it.closeFile(); err != nil {
				return Tuple{}, err
			}
			continue
		}
		if err != nil {
			return Tuple{}, fmt.Errorf("reading input: %w", err)
		}
	}
}

func trimEOL(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return line
}

func (it *lineIterator) closeFile() error {
	if it.rc == nil {
		return nil
	}
	err := it.rc.Close()
	it.rc, it.br = nil, nil
	return err
}

func (it *lineIterator) Close() error {
	return it.closeFile()
}

// TuplePartFile is the name of the part file a tuple sink writes.
const TuplePartFile = "part-00000"

type tupleSink struct {
	store storage.Storage
	path  string
}

// TupleSink writes a tuple file below the directory path, replacing
// whatever was there.
func TupleSink(store storage.Storage, path string) Sink {
	return &tupleSink{store: store, path: path}
}

func (s *tupleSink) Identifier() string {
	return s.path
}

func (s *tupleSink) Open(ctx context.Context, fields Fields) (SinkWriter, error) {
	if err := s.store.Delete(ctx, s.path); err != nil {
		return nil, fmt.Errorf("replacing %s: %w", s.path, err)
	}
	w, err := s.store.Create(ctx, path.Join(s.path, TuplePartFile))
	if err != nil {
		return nil, err
	}
	tw, err := NewTupleWriter(w, fields)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &tupleSinkWriter{tw: tw, w: w}, nil
}

type tupleSinkWriter struct {
	tw *TupleWriter
	w  io.WriteCloser
}

func (s *tupleSinkWriter) Write(values []any) error {
	return s.tw.Write(values)
}

func (s *tupleSinkWriter) Close() error {
	if err := s.tw.Close(); err != nil {
		s.w.Close()
		return fmt.Errorf("closing tuple writer: %w", err)
	}
	return s.w.Close()
}

// OpenTuples iterates the tuples of every tuple file below path, in
// file name order.
func OpenTuples(ctx context.Context, store storage.Storage, path string) (TupleIterator, error) {
	files, err := store.List(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("listing tuple files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("tuple input %s: no such file", path)
	}
	return &tupleFileIterator{ctx: ctx, store: store, files: files}, nil
}

type tupleFileIterator struct {
	ctx   context.Context
	store storage.Storage
	files []string
	rc    io.ReadCloser
	tr    *TupleReader
}

func (it *tupleFileIterator) Next() (Tuple, error) {
	for {
		if it.tr == nil {
			if len(it.files) == 0 {
				return Tuple{}, io.EOF
			}
			rc, err := it.store.Read(it.ctx, it.files[0])
			if err != nil {
				return Tuple{}, err
			}
			it.files = it.files[1:]
			tr, err := NewTupleReader(rc)
			if err != nil {
				rc.Close()
				return Tuple{}, err
			}
			it.rc, it.tr = rc, tr
		}

		t, err := it.tr.Next()
		if errors.Is(err, io.EOF) {
			if err := it.closeFile(); err != nil {
				return Tuple{}, err
			}
			continue
		}
		return t, err
	}
}

func (it *tupleFileIterator) closeFile() error {
	if it.tr == nil {
		return nil
	}
	it.tr.Close()
	err := it.rc.Close()
	it.rc, it.tr = nil, nil
	return err
}

func (it *tupleFileIterator) Close() error {
	return it.closeFile()
}
