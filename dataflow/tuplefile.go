package dataflow

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	tupleFileMagic   = "LITF"
	tupleFileVersion = 1
)

var ErrNilValue = errors.New("dataflow: nil tuple value")

type tupleFileHeader struct {
	Magic   string
	Version int
	Fields  []string
}

type tupleRecord struct {
	Values []any
}

// TupleWriter writes tuples as a zstd-compressed gob stream. The concrete
// Go type of every value is preserved, so readers see int32 where int32
// was written.
type TupleWriter struct {
	zw     *zstd.Encoder
	enc    *gob.Encoder
	fields Fields
}

func NewTupleWriter(w io.Writer, fields Fields) (*TupleWriter, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	enc := gob.NewEncoder(zw)
	if err := enc.Encode(tupleFileHeader{Magic: tupleFileMagic, Version: tupleFileVersion, Fields: fields}); err != nil {
		zw.Close()
		return nil, fmt.Errorf("writing tuple header: %w", err)
	}
	return &TupleWriter{zw: zw, enc: enc, fields: fields}, nil
}

func (w *TupleWriter) Write(values []any) error {
	if len(values) != len(w.fields) {
		return fmt.Errorf("tuple has %d values for %d fields", len(values), len(w.fields))
	}
	for i, v := range values {
		if v == nil {
			return fmt.Errorf("field %s: %w", w.fields[i], ErrNilValue)
		}
	}
	if err := w.enc.Encode(tupleRecord{Values: values}); err != nil {
		return fmt.Errorf("writing tuple: %w", err)
	}
	return nil
}

// Close flushes the stream. It does not close the underlying writer.
func (w *TupleWriter) Close() error {
	return w.zw.Close()
}

// TupleReader reads files written by TupleWriter.
type TupleReader struct {
	zr     *zstd.Decoder
	dec    *gob.Decoder
	fields Fields
}

func NewTupleReader(r io.Reader) (*TupleReader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	dec := gob.NewDecoder(zr)

	var hdr tupleFileHeader
	if err := dec.Decode(&hdr); err != nil {
		zr.Close()
		return nil, fmt.Errorf("reading tuple header: %w", err)
	}
	if hdr.Magic != tupleFileMagic || hdr.Version != tupleFileVersion {
		zr.Close()
		return nil, fmt.Errorf("not a tuple file (magic %q, version %d)", hdr.Magic, hdr.Version)
	}
	return &TupleReader{zr: zr, dec: dec, fields: hdr.Fields}, nil
}

func (r *TupleReader) Fields() Fields {
	return r.fields
}

// Next returns the next tuple or io.EOF.
func (r *TupleReader) Next() (Tuple, error) {
	var rec tupleRecord
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Tuple{}, io.EOF
		}
		return Tuple{}, fmt.Errorf("reading tuple: %w", err)
	}
	return Tuple{Fields: r.fields, Values: rec.Values}, nil
}

func (r *TupleReader) Close() error {
	r.zr.Close()
	return nil
}
