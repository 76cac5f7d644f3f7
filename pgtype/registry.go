// Package pgtype implements the runtime-loaded type catalogue and the
// binary value codecs driven by it. Values cross the package boundary as
// `any`: scalars map to their natural Go types, arrays to nested []any,
// composite records to []any, NULL to nil.
package pgtype

import (
	"sync"

	"github.com/koustreak/pgwire/errs"
)

// Type kinds, matching pg_type.typtype.
const (
	KindBase      byte = 'b'
	KindComposite byte = 'c'
	KindDomain    byte = 'd'
	KindEnum      byte = 'e'
	KindPseudo    byte = 'p'
	KindRange     byte = 'r'
)

// Well-known OIDs used by the bootstrap set and the loader query.
const (
	OIDBool        uint32 = 16
	OIDBytea       uint32 = 17
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDOID         uint32 = 26
	OIDJSON        uint32 = 114
	OIDFloat4      uint32 = 700
	OIDFloat8      uint32 = 701
	OIDInt4Array   uint32 = 1007
	OIDTextArray   uint32 = 1009
	OIDVarchar     uint32 = 1043
	OIDTimestamp   uint32 = 1114
	OIDTimestamptz uint32 = 1184
	OIDJSONB       uint32 = 3802
)

// TypeRow is one entry of the catalogue: the subset of a pg_type row the
// codecs dispatch on.
type TypeRow struct {
	OID      uint32
	Name     string
	Kind     byte     // pg_type.typtype
	ElemOID  uint32   // element type for arrays, 0 otherwise
	AttrOIDs []uint32 // attribute types for composites, in attnum order
	RecvName string   // pg_type.typreceive
	SendName string   // pg_type.typsend
}

// LoaderQuery refreshes the catalogue from pg_type. Every column is cast
// to a bootstrap-decodable type so the query can run before the full
// catalogue is loaded.
const LoaderQuery = `SELECT oid::int4, typname::text, typtype::text, typelem::int4,
       typreceive::text, typsend::text,
       array(SELECT atttypid::int4 FROM pg_attribute
             WHERE attrelid = typrelid AND NOT attisdropped AND attnum > 0
             ORDER BY attnum) AS attrtypids
FROM pg_type WHERE typisdefined`

// bootstrapRows are the minimal entries needed to decode the loader
// query's own result set.
var bootstrapRows = []TypeRow{
	{OID: OIDInt4, Name: "int4", Kind: KindBase, RecvName: "int4recv", SendName: "int4send"},
	{OID: OIDText, Name: "text", Kind: KindBase, RecvName: "textrecv", SendName: "textsend"},
	{OID: OIDInt4Array, Name: "_int4", Kind: KindBase, ElemOID: OIDInt4, RecvName: "array_recv", SendName: "array_send"},
	{OID: OIDTextArray, Name: "_text", Kind: KindBase, ElemOID: OIDText, RecvName: "array_recv", SendName: "array_send"},
}

// Registry is the in-memory type catalogue. It starts with the bootstrap
// set and is replaced wholesale after each load from pg_type. Safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[uint32]*TypeRow
}

// NewRegistry returns a Registry holding only the bootstrap entries.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Replace(nil)
	return r
}

// Replace rebuilds the catalogue from the bootstrap set overlaid with
// the given rows.
func (r *Registry) Replace(rows []TypeRow) {
	m := make(map[uint32]*TypeRow, len(bootstrapRows)+len(rows))
	for i := range bootstrapRows {
		row := bootstrapRows[i]
		m[row.OID] = &row
	}
	for i := range rows {
		row := rows[i]
		m[row.OID] = &row
	}
	r.mu.Lock()
	r.types = m
	r.mu.Unlock()
}

// Lookup returns the catalogue row for oid.
func (r *Registry) Lookup(oid uint32) (*TypeRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[oid]
	return t, ok
}

// Len reports the number of catalogued types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Decode converts the binary wire representation of a value of the given
// type into its Go form. data must not be nil; NULL is handled by the
// caller (a NULL column never reaches the codec).
func (r *Registry) Decode(oid uint32, data []byte) (any, error) {
	t, ok := r.Lookup(oid)
	if !ok {
		return nil, errs.Newf(errs.KindCodec, "Unknown type: oid %d", oid)
	}
	if fn, ok := scalarRecv[t.RecvName]; ok {
		return fn(data)
	}
	switch t.RecvName {
	case "array_recv":
		return r.decodeArray(t, data)
	case "record_recv":
		return r.decodeRecord(t, data)
	}
	return nil, errs.Newf(errs.KindCodec, "Unsupported type: %s (oid %d, typreceive %s)", t.Name, t.OID, t.RecvName)
}

// Encode converts a Go value into the binary wire representation of the
// given type. A nil value must be handled by the caller as NULL.
func (r *Registry) Encode(oid uint32, v any) ([]byte, error) {
	t, ok := r.Lookup(oid)
	if !ok {
		return nil, errs.Newf(errs.KindCodec, "Unknown type: oid %d", oid)
	}
	if fn, ok := scalarSend[t.SendName]; ok {
		return fn(v)
	}
	switch t.SendName {
	case "array_send":
		return r.encodeArray(t, v)
	case "record_send":
		return r.encodeRecord(t, v)
	}
	return nil, errs.Newf(errs.KindCodec, "Unsupported type: %s (oid %d, typsend %s)", t.Name, t.OID, t.SendName)
}
