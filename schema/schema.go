package schema

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

var (
	ErrUnknownType  = errors.New("unknown column type")
	ErrTypeMismatch = errors.New("value does not match column type")
)

// ColumnType is the closed set of column types a table can hold.
type ColumnType int

const (
	Int32 ColumnType = iota + 1
	Int64
	Float32
	Float64
	Text
)

var typeNames = map[ColumnType]string{
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
	Text:    "string",
}

func (t ColumnType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

func ParseType(s string) (ColumnType, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TypeOf maps the dynamic type of a tuple value to its column type.
func TypeOf(v any) (ColumnType, error) {
	switch v.(type) {
	case int32:
		return Int32, nil
	case int64:
		return Int64, nil
	case float32:
		return Float32, nil
	case float64:
		return Float64, nil
	case string:
		return Text, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
}

// Value converts v into a parquet value of this type.
func (t ColumnType) Value(v any) (parquet.Value, error) {
	got, err := TypeOf(v)
	if err != nil {
		return parquet.Value{}, err
	}
	if got != t {
		return parquet.Value{}, fmt.Errorf("%w: %s value for %s column", ErrTypeMismatch, got, t)
	}
	return parquet.ValueOf(v), nil
}

// GoValue is the inverse of Value.
func (t ColumnType) GoValue(v parquet.Value) any {
	switch t {
	case Int32:
		return v.Int32()
	case Int64:
		return v.Int64()
	case Float32:
		return v.Float()
	case Float64:
		return v.Double()
	case Text:
		return string(v.ByteArray())
	default:
		panic("unreachable column type " + t.String())
	}
}

// Compare orders two values of this type.
func (t ColumnType) Compare(a, b any) int {
	switch t {
	case Int32:
		return cmp.Compare(a.(int32), b.(int32))
	case Int64:
		return cmp.Compare(a.(int64), b.(int64))
	case Float32:
		return cmp.Compare(a.(float32), b.(float32))
	case Float64:
		return cmp.Compare(a.(float64), b.(float64))
	case Text:
		return cmp.Compare(a.(string), b.(string))
	default:
		panic("unreachable column type " + t.String())
	}
}

func (t ColumnType) parquetNode() parquet.Node {
	switch t {
	case Int32:
		return parquet.Leaf(parquet.Int32Type)
	case Int64:
		return parquet.Leaf(parquet.Int64Type)
	case Float32:
		return parquet.Leaf(parquet.FloatType)
	case Float64:
		return parquet.Leaf(parquet.DoubleType)
	case Text:
		return parquet.String()
	default:
		panic("unreachable column type " + t.String())
	}
}

type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// ColumnSchema is the ordered list of columns of a table.
type ColumnSchema []Column

// Infer builds a schema from the names and the values of one tuple.
func Infer(names []string, values []any) (ColumnSchema, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("inferring schema: %d names for %d values", len(names), len(values))
	}

	s := make(ColumnSchema, len(values))
	for i, v := range values {
		t, err := TypeOf(v)
		if err != nil {
			return nil, fmt.Errorf("inferring column %s: %w", names[i], err)
		}
		s[i] = Column{Name: names[i], Type: t}
	}
	return s, nil
}

func (s ColumnSchema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column or -1.
func (s ColumnSchema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s ColumnSchema) Equal(o ColumnSchema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s ColumnSchema) Validate() error {
	if len(s) == 0 {
		return errors.New("schema has no columns")
	}
	seen := make(map[string]bool, len(s))
	for _, c := range s {
		if c.Name == "" {
			return errors.New("schema has a column without name")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %s", c.Name)
		}
		seen[c.Name] = true
		if _, ok := typeNames[c.Type]; !ok {
			return fmt.Errorf("column %s: %w", c.Name, ErrUnknownType)
		}
	}
	return nil
}

// Parquet builds the parquet schema of the table. All columns are required.
func (s ColumnSchema) Parquet(name string) *parquet.Schema {
	root := make(parquet.Group, len(s))
	for _, c := range s {
		root[c.Name] = c.Type.parquetNode()
	}
	return parquet.NewSchema(name, root)
}
