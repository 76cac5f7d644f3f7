package pgtype

import (
	"encoding/binary"

	"github.com/koustreak/pgwire/errs"
)

// encodeRecord writes the composite wire format: field count, then per
// field its type oid and length-prefixed value (-1 for NULL). Fields are
// supplied as []any in attribute order.
func (r *Registry) encodeRecord(t *TypeRow, v any) ([]byte, error) {
	if t.Kind != KindComposite {
		return nil, errs.Newf(errs.KindCodec, "type %s (oid %d) is not a composite type", t.Name, t.OID)
	}
	fields, ok := v.([]any)
	if !ok {
		return nil, expected("array", v)
	}
	if len(fields) != len(t.AttrOIDs) {
		return nil, errs.Newf(errs.KindCodec, "composite %s has %d attributes, got %d values", t.Name, len(t.AttrOIDs), len(fields))
	}

	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(fields)))
	for i, field := range fields {
		attrOID := t.AttrOIDs[i]
		buf = binary.BigEndian.AppendUint32(buf, attrOID)
		if field == nil {
			buf = binary.BigEndian.AppendUint32(buf, uint32(0xFFFFFFFF))
			continue
		}
		b, err := r.Encode(attrOID, field)
		if err != nil {
			return nil, errs.Newf(errs.KindCodec, "Record field %d: %v", i, err)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}
	return buf, nil
}

// decodeRecord parses a composite value into []any in attribute order.
// When the catalogue row carries attribute types (a named composite) the
// inline oids are checked against them; an anonymous record row has none
// and the inline oids are trusted.
func (r *Registry) decodeRecord(t *TypeRow, data []byte) (any, error) {
	rb := &arrayReader{b: data}
	n := rb.int32()
	if rb.err != nil {
		return nil, rb.err
	}
	if n < 0 {
		return nil, errs.Newf(errs.KindCodec, "negative composite field count %d", n)
	}
	if len(t.AttrOIDs) > 0 && int(n) != len(t.AttrOIDs) {
		return nil, errs.Newf(errs.KindCodec, "composite %s has %d attributes, got %d fields", t.Name, len(t.AttrOIDs), n)
	}

	fields := make([]any, 0, n)
	for i := 0; i < int(n); i++ {
		oid := uint32(rb.int32())
		if len(t.AttrOIDs) > 0 && oid != t.AttrOIDs[i] {
			return nil, errs.Newf(errs.KindCodec, "Record field %d: expected type oid %d, got %d", i, t.AttrOIDs[i], oid)
		}
		ln := rb.int32()
		if rb.err != nil {
			return nil, rb.err
		}
		if ln == -1 {
			fields = append(fields, nil)
			continue
		}
		raw := rb.bytes(int(ln))
		if rb.err != nil {
			return nil, rb.err
		}
		v, err := r.Decode(oid, raw)
		if err != nil {
			return nil, errs.Newf(errs.KindCodec, "Record field %d: %v", i, err)
		}
		fields = append(fields, v)
	}
	if rb.remaining() != 0 {
		return nil, errs.Newf(errs.KindCodec, "composite value has %d trailing bytes", rb.remaining())
	}
	return fields, nil
}
