package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTypeOf(t *testing.T) {
	for _, tc := range []struct {
		value any
		want  ColumnType
	}{
		{int32(1), Int32},
		{int64(1), Int64},
		{float32(1), Float32},
		{float64(1), Float64},
		{"x", Text},
	} {
		got, err := TypeOf(tc.value)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	for _, v := range []any{1, true, []byte("x"), nil, uint32(3)} {
		_, err := TypeOf(v)
		assert.ErrorIs(t, err, ErrUnknownType, "%T", v)
	}
}

func TestInferIsIdempotent(t *testing.T) {
	names := []string{"day", "count", "metric"}
	values := []any{int32(17), int64(3), "ALL"}

	first, err := Infer(names, values)
	require.NoError(t, err)
	second, err := Infer(names, values)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, ColumnSchema{{"day", Int32}, {"count", Int64}, {"metric", Text}}, first)
}

func TestInferRejectsUnknownTypes(t *testing.T) {
	_, err := Infer([]string{"a"}, []any{true})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = Infer([]string{"a", "b"}, []any{"x"})
	require.Error(t, err)
}

func TestValueRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		typ   ColumnType
		value any
	}{
		{Int32, int32(-4)},
		{Int64, int64(1 << 40)},
		{Float32, float32(1.5)},
		{Float64, 2.25},
		{Text, "alice"},
	} {
		v, err := tc.typ.Value(tc.value)
		require.NoError(t, err)
		assert.Equal(t, tc.value, tc.typ.GoValue(v))
	}

	_, err := Int32.Value(int64(1))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Text.Compare("alice", "bob"))
	assert.Equal(t, 0, Int32.Compare(int32(3), int32(3)))
	assert.Equal(t, 1, Float64.Compare(2.0, 1.0))
}

func TestParquetSchema(t *testing.T) {
	s := ColumnSchema{{"user", Text}, {"count", Int64}, {"day", Int32}}
	ps := s.Parquet("analytics")

	for _, name := range s.Names() {
		_, ok := ps.Lookup(name)
		assert.True(t, ok, name)
	}
	assert.Len(t, ps.Fields(), 3)
}

func TestYAMLTypes(t *testing.T) {
	var s ColumnSchema
	require.NoError(t, yaml.Unmarshal([]byte("- {name: day, type: int32}\n- {name: value, type: string}\n"), &s))
	assert.Equal(t, ColumnSchema{{"day", Int32}, {"value", Text}}, s)

	err := yaml.Unmarshal([]byte("- {name: day, type: date}\n"), &s)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, ColumnSchema{{"a", Int32}}.Validate())
	require.Error(t, ColumnSchema{}.Validate())
	require.Error(t, ColumnSchema{{"a", Int32}, {"a", Text}}.Validate())
	require.Error(t, ColumnSchema{{"a", ColumnType(42)}}.Validate())
}

func TestManagerFixesFirstSchema(t *testing.T) {
	m := NewManager()
	s := ColumnSchema{{"user", Text}}

	got, err := m.Fix("logs", s)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = m.Fix("logs", ColumnSchema{{"user", Text}})
	require.NoError(t, err)

	_, err = m.Fix("logs", ColumnSchema{{"user", Int64}})
	require.ErrorIs(t, err, ErrSchemaChanged)

	fixed, ok := m.Get("logs")
	require.True(t, ok)
	assert.Equal(t, s, fixed)

	_, ok = m.Get("analytics")
	assert.False(t, ok)
}
