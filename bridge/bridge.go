// Package bridge converts dataflow tuples into parquet rows.
package bridge

import (
	"errors"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"log-indexer/dataflow"
	"log-indexer/schema"
)

// ErrFieldCount is returned when a tuple does not have one value per
// column. The read cannot continue past it.
var ErrFieldCount = errors.New("tuple field count does not match schema")

// Reader yields the tuples of it as parquet rows of a fixed schema.
type Reader struct {
	it       dataflow.TupleIterator
	name     string
	declared schema.ColumnSchema

	schema  schema.ColumnSchema
	pschema *parquet.Schema
	leaf    []int // tuple position -> parquet column index
	err     error
}

// NewReader wraps it. When declared is empty the schema is inferred from
// the first tuple and fixed for the rest of the read.
func NewReader(it dataflow.TupleIterator, name string, declared schema.ColumnSchema) *Reader {
	return &Reader{it: it, name: name, declared: declared}
}

// Schema is the schema in effect, or nil before the first row when none
// was declared.
func (r *Reader) Schema() schema.ColumnSchema {
	if r.schema == nil && len(r.declared) > 0 {
		if err := r.fix(r.declared); err != nil {
			return nil
		}
	}
	return r.schema
}

// ParquetSchema returns the parquet schema matching Schema.
func (r *Reader) ParquetSchema() *parquet.Schema {
	if r.Schema() == nil {
		return nil
	}
	return r.pschema
}

// ColumnIndex returns the parquet column index of the named column.
func (r *Reader) ColumnIndex(name string) (int, bool) {
	i := r.schema.Index(name)
	if i < 0 {
		return 0, false
	}
	return r.leaf[i], true
}

func (r *Reader) fix(s schema.ColumnSchema) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("table %s: %w", r.name, err)
	}
	ps := s.Parquet(r.name)
	leaf := make([]int, len(s))
	for i, c := range s {
		l, ok := ps.Lookup(c.Name)
		if !ok {
			return fmt.Errorf("table %s: column %s missing from parquet schema", r.name, c.Name)
		}
		leaf[i] = l.ColumnIndex
	}
	r.schema, r.pschema, r.leaf = s, ps, leaf
	return nil
}

// Next returns the next row or io.EOF. Schema errors are sticky.
func (r *Reader) Next() (parquet.Row, error) {
	if r.err != nil {
		return nil, r.err
	}
	t, err := r.it.Next()
	if err != nil {
		return nil, err
	}

	if r.schema == nil {
		s := r.declared
		if len(s) == 0 {
			if s, err = schema.Infer(t.Fields, t.Values); err != nil {
				r.err = fmt.Errorf("table %s: %w", r.name, err)
				return nil, r.err
			}
		}
		if err := r.fix(s); err != nil {
			r.err = err
			return nil, err
		}
	}

	if len(t.Values) != len(r.schema) {
		r.err = fmt.Errorf("table %s: %w: %d values for %d columns", r.name, ErrFieldCount, len(t.Values), len(r.schema))
		return nil, r.err
	}

	row := make(parquet.Row, len(r.schema))
	for i, c := range r.schema {
		v, err := c.Type.Value(t.Values[i])
		if err != nil {
			r.err = fmt.Errorf("table %s: column %s: %w", r.name, c.Name, err)
			return nil, r.err
		}
		row[r.leaf[i]] = v.Level(0, 0, r.leaf[i])
	}
	return row, nil
}

func (r *Reader) Close() error {
	return r.it.Close()
}
