package pgtype

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferDims(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []int
	}{
		{"scalar", 1, nil},
		{"empty", []any{}, []int{0}},
		{"nested empties", []any{[]any{[]any{}}}, []int{1, 1, 0}},
		{"flat", []any{1, 2, 3}, []int{3}},
		{"three empty rows", []any{[]any{}, []any{}, []any{}}, []int{3, 0}},
		{"matrix", []any{[]any{1, 2}, []any{3, 4}, []any{5, 6}}, []int{3, 2}},
		{"null is a scalar", []any{nil, nil}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InferDims(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferDims_Mismatch(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"scalar next to array", []any{1, []any{}}},
		{"ragged rows", []any{[]any{1}, []any{1, 2}}},
		{"deep ragged", []any{[]any{[]any{1}}, []any{[]any{1, 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InferDims(tt.in)
			require.Error(t, err)
			assert.Equal(t, "Multidimensional arrays must have sub-arrays with matching dimensions", err.Error())
		})
	}
}

func TestArrayRoundTrips(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		oid  uint32
		in   []any
	}{
		{"flat ints", OIDInt4Array, []any{int32(1), int32(2), int32(3)}},
		{"flat text", OIDTextArray, []any{"a", "", "c"}},
		{"with nulls", OIDInt4Array, []any{int32(1), nil, int32(3)}},
		{"empty", OIDInt4Array, []any{}},
		{"matrix", OIDInt4Array, []any{
			[]any{int32(1), int32(2)},
			[]any{int32(3), int32(4)},
		}},
		{"three dims with nulls", OIDTextArray, []any{
			[]any{[]any{"a", nil}, []any{"c", "d"}},
			[]any{[]any{nil, "f"}, []any{"g", "h"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := r.Encode(tt.oid, tt.in)
			require.NoError(t, err)
			out, err := r.Decode(tt.oid, b)
			require.NoError(t, err)
			assert.Equal(t, any(tt.in), out)
		})
	}
}

func TestArrayEncode_Header(t *testing.T) {
	r := NewRegistry()
	b, err := r.Encode(OIDInt4Array, []any{int32(7)})
	require.NoError(t, err)

	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(b[0:]))       // ndim
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(b[4:]))       // no nulls
	assert.Equal(t, OIDInt4, binary.BigEndian.Uint32(b[8:]))         // elem oid
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(b[12:]))      // dim length
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(b[16:]))      // lower bound
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(b[20:]))      // elem length
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(b[24:]))      // elem value
	assert.Len(t, b, 28)
}

func TestArrayEncode_NullsFlag(t *testing.T) {
	r := NewRegistry()
	b, err := r.Encode(OIDInt4Array, []any{nil})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(b[4:]))
}

func TestArrayEncode_Mismatch(t *testing.T) {
	r := NewRegistry()
	_, err := r.Encode(OIDInt4Array, []any{int32(1), []any{int32(2)}})
	require.Error(t, err)
	assert.Equal(t, "Multidimensional arrays must have sub-arrays with matching dimensions", err.Error())
}

func TestArrayEncode_NotAnArray(t *testing.T) {
	r := NewRegistry()
	_, err := r.Encode(OIDInt4Array, int32(1))
	require.Error(t, err)
	assert.Equal(t, "Expected array, got number", err.Error())
}

func TestArrayDecode_ZeroDimensions(t *testing.T) {
	// PostgreSQL sends '{}' as a zero-dimensional array.
	r := NewRegistry()
	var raw []byte
	raw = binary.BigEndian.AppendUint32(raw, 0)       // ndim
	raw = binary.BigEndian.AppendUint32(raw, 0)       // flags
	raw = binary.BigEndian.AppendUint32(raw, OIDInt4) // elem oid

	out, err := r.Decode(OIDInt4Array, raw)
	require.NoError(t, err)
	assert.Equal(t, any([]any{}), out)
}

func TestArrayDecode_RejectsLowerBound(t *testing.T) {
	r := NewRegistry()
	var raw []byte
	raw = binary.BigEndian.AppendUint32(raw, 1)
	raw = binary.BigEndian.AppendUint32(raw, 0)
	raw = binary.BigEndian.AppendUint32(raw, OIDInt4)
	raw = binary.BigEndian.AppendUint32(raw, 1) // length
	raw = binary.BigEndian.AppendUint32(raw, 2) // lower bound != 1
	raw = binary.BigEndian.AppendUint32(raw, 4)
	raw = binary.BigEndian.AppendUint32(raw, 9)

	_, err := r.Decode(OIDInt4Array, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower bound")
}

func TestArrayDecode_RejectsBadFlags(t *testing.T) {
	r := NewRegistry()
	var raw []byte
	raw = binary.BigEndian.AppendUint32(raw, 0)
	raw = binary.BigEndian.AppendUint32(raw, 2) // flags must be 0 or 1
	raw = binary.BigEndian.AppendUint32(raw, OIDInt4)

	_, err := r.Decode(OIDInt4Array, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flags")
}

func TestArrayDecode_Truncated(t *testing.T) {
	r := NewRegistry()
	b, err := r.Encode(OIDInt4Array, []any{int32(1), int32(2)})
	require.NoError(t, err)
	_, err = r.Decode(OIDInt4Array, b[:len(b)-2])
	assert.Error(t, err)
}
