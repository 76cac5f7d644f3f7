package pgtype

import (
	"encoding/binary"

	"github.com/koustreak/pgwire/errs"
)

// errDimMismatch matches the wording callers test against.
var errDimMismatch = errs.New(errs.KindCodec, "Multidimensional arrays must have sub-arrays with matching dimensions")

// InferDims derives the dimension vector of a nested value: a scalar has
// dimensions [], an empty slice [0], and a non-empty slice prepends its
// length to the (identical) dimensions of its elements. nil elements are
// scalars, so NULLs may appear at the innermost level only.
func InferDims(v any) ([]int, error) {
	s, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	if len(s) == 0 {
		return []int{0}, nil
	}
	first, err := InferDims(s[0])
	if err != nil {
		return nil, err
	}
	for _, elem := range s[1:] {
		dims, err := InferDims(elem)
		if err != nil {
			return nil, err
		}
		if !dimsEqual(first, dims) {
			return nil, errDimMismatch
		}
	}
	return append([]int{len(s)}, first...), nil
}

func dimsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// encodeArray writes the array wire format: ndim, flags, element oid,
// (length, lower bound) per dimension, then the elements in row-major
// order, each length-prefixed with -1 for NULL.
func (r *Registry) encodeArray(t *TypeRow, v any) ([]byte, error) {
	if t.ElemOID == 0 {
		return nil, errs.Newf(errs.KindCodec, "type %s has no element type", t.Name)
	}
	s, ok := v.([]any)
	if !ok {
		return nil, expected("array", v)
	}
	elem, ok := r.Lookup(t.ElemOID)
	if !ok {
		return nil, errs.Newf(errs.KindCodec, "Unknown type: oid %d", t.ElemOID)
	}

	var dims []int
	if elem.RecvName == "record_recv" {
		// Composite elements are themselves sequences; the array is
		// one-dimensional and its immediate children are the elements.
		dims = []int{len(s)}
	} else {
		var err error
		dims, err = InferDims(s)
		if err != nil {
			return nil, err
		}
	}

	elems, hasNull, err := r.appendArrayElems(nil, t.ElemOID, s, len(dims), false)
	if err != nil {
		return nil, err
	}
	flags := int32(0)
	if hasNull {
		flags = 1
	}

	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(dims)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(flags))
	buf = binary.BigEndian.AppendUint32(buf, t.ElemOID)
	for _, d := range dims {
		buf = binary.BigEndian.AppendUint32(buf, uint32(d))
		buf = binary.BigEndian.AppendUint32(buf, 1) // lower bound
	}
	return append(buf, elems...), nil
}

func (r *Registry) appendArrayElems(buf []byte, elemOID uint32, s []any, depth int, hasNull bool) ([]byte, bool, error) {
	if depth > 1 {
		for _, elem := range s {
			sub, ok := elem.([]any)
			if !ok {
				return nil, false, errDimMismatch
			}
			var err error
			buf, hasNull, err = r.appendArrayElems(buf, elemOID, sub, depth-1, hasNull)
			if err != nil {
				return nil, false, err
			}
		}
		return buf, hasNull, nil
	}
	for _, elem := range s {
		if elem == nil {
			buf = binary.BigEndian.AppendUint32(buf, uint32(0xFFFFFFFF)) // -1: NULL
			hasNull = true
			continue
		}
		b, err := r.Encode(elemOID, elem)
		if err != nil {
			return nil, false, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}
	return buf, hasNull, nil
}

// decodeArray parses the array wire format into nested []any whose depth
// equals the announced dimension count. A zero-dimensional array decodes
// as an empty top-level slice.
func (r *Registry) decodeArray(t *TypeRow, data []byte) (any, error) {
	rb := &arrayReader{b: data}
	ndim := rb.int32()
	flags := rb.int32()
	rb.int32() // element oid; the catalogue row is authoritative
	if rb.err != nil {
		return nil, rb.err
	}
	if ndim < 0 {
		return nil, errs.Newf(errs.KindCodec, "negative array dimension count %d", ndim)
	}
	if flags != 0 && flags != 1 {
		return nil, errs.Newf(errs.KindCodec, "invalid array flags %d", flags)
	}
	if ndim == 0 {
		return []any{}, nil
	}

	dims := make([]int, ndim)
	total := 1
	for i := range dims {
		length := rb.int32()
		lower := rb.int32()
		if rb.err != nil {
			return nil, rb.err
		}
		if lower != 1 {
			return nil, errs.Newf(errs.KindCodec, "array lower bound must be 1, got %d", lower)
		}
		if length < 0 {
			return nil, errs.Newf(errs.KindCodec, "negative array dimension length %d", length)
		}
		dims[i] = int(length)
		total *= int(length)
	}

	flat := make([]any, 0, total)
	for i := 0; i < total; i++ {
		ln := rb.int32()
		if rb.err != nil {
			return nil, rb.err
		}
		if ln == -1 {
			flat = append(flat, nil)
			continue
		}
		raw := rb.bytes(int(ln))
		if rb.err != nil {
			return nil, rb.err
		}
		v, err := r.Decode(t.ElemOID, raw)
		if err != nil {
			return nil, err
		}
		flat = append(flat, v)
	}
	if rb.remaining() != 0 {
		return nil, errs.Newf(errs.KindCodec, "array value has %d trailing bytes", rb.remaining())
	}

	nested, _ := nest(flat, dims)
	return nested, nil
}

// nest rebuilds the row-major flat element list into nested slices.
func nest(flat []any, dims []int) ([]any, []any) {
	if len(dims) == 1 {
		return flat[:dims[0]:dims[0]], flat[dims[0]:]
	}
	out := make([]any, 0, dims[0])
	rest := flat
	for i := 0; i < dims[0]; i++ {
		var sub []any
		sub, rest = nest(rest, dims[1:])
		out = append(out, any(sub))
	}
	return out, rest
}

// arrayReader is a minimal cursor over an array body. The wire.ReadBuffer
// is not reused here: codec failures must surface as codec errors, not
// protocol errors.
type arrayReader struct {
	b   []byte
	off int
	err error
}

func (r *arrayReader) remaining() int { return len(r.b) - r.off }

func (r *arrayReader) int32() int32 {
	if r.err != nil || r.remaining() < 4 {
		if r.err == nil {
			r.err = errs.New(errs.KindCodec, "truncated array value")
		}
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return v
}

func (r *arrayReader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.remaining() < n {
		if r.err == nil {
			r.err = errs.New(errs.KindCodec, "truncated array value")
		}
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}
