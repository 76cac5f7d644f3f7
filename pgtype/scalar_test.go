package pgtype

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgwire/errs"
)

// testRegistry returns a registry covering every scalar codec, the way
// a loaded pg_type catalogue would.
func testRegistry() *Registry {
	r := NewRegistry()
	r.Replace([]TypeRow{
		{OID: OIDBool, Name: "bool", Kind: KindBase, RecvName: "boolrecv", SendName: "boolsend"},
		{OID: OIDBytea, Name: "bytea", Kind: KindBase, RecvName: "bytearecv", SendName: "byteasend"},
		{OID: OIDInt2, Name: "int2", Kind: KindBase, RecvName: "int2recv", SendName: "int2send"},
		{OID: OIDInt8, Name: "int8", Kind: KindBase, RecvName: "int8recv", SendName: "int8send"},
		{OID: OIDOID, Name: "oid", Kind: KindBase, RecvName: "oidrecv", SendName: "oidsend"},
		{OID: OIDFloat4, Name: "float4", Kind: KindBase, RecvName: "float4recv", SendName: "float4send"},
		{OID: OIDFloat8, Name: "float8", Kind: KindBase, RecvName: "float8recv", SendName: "float8send"},
		{OID: OIDVarchar, Name: "varchar", Kind: KindBase, RecvName: "varcharrecv", SendName: "varcharsend"},
		{OID: 1042, Name: "bpchar", Kind: KindBase, RecvName: "bpcharrecv", SendName: "bpcharsend"},
		{OID: 19, Name: "name", Kind: KindBase, RecvName: "namerecv", SendName: "namesend"},
		{OID: OIDJSON, Name: "json", Kind: KindBase, RecvName: "json_recv", SendName: "json_send"},
		{OID: OIDJSONB, Name: "jsonb", Kind: KindBase, RecvName: "jsonb_recv", SendName: "jsonb_send"},
		{OID: OIDTimestamp, Name: "timestamp", Kind: KindBase, RecvName: "timestamp_recv", SendName: "timestamp_send"},
		{OID: OIDTimestamptz, Name: "timestamptz", Kind: KindBase, RecvName: "timestamptz_recv", SendName: "timestamptz_send"},
		{OID: 2278, Name: "void", Kind: KindPseudo, RecvName: "void_recv", SendName: "void_send"},
		{OID: 17000, Name: "mood", Kind: KindEnum, RecvName: "enum_recv", SendName: "enum_send"},
	})
	return r
}

func roundTrip(t *testing.T, r *Registry, oid uint32, v any) any {
	t.Helper()
	b, err := r.Encode(oid, v)
	require.NoError(t, err)
	out, err := r.Decode(oid, b)
	require.NoError(t, err)
	return out
}

func TestScalarRoundTrips(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name string
		oid  uint32
		in   any
		want any
	}{
		{"bool true", OIDBool, true, true},
		{"bool false", OIDBool, false, false},
		{"int2", OIDInt2, int16(-42), int16(-42)},
		{"int4", OIDInt4, int32(123456), int32(123456)},
		{"int4 from int", OIDInt4, 7, int32(7)},
		{"int8 max", OIDInt8, int64(math.MaxInt64), int64(math.MaxInt64)},
		{"int8 min", OIDInt8, int64(math.MinInt64), int64(math.MinInt64)},
		{"oid", OIDOID, int32(2950), int32(2950)},
		{"float4", OIDFloat4, float32(1.5), float32(1.5)},
		{"float8", OIDFloat8, 2.25, 2.25},
		{"float8 negative", OIDFloat8, -1e300, -1e300},
		{"text", OIDText, "héllo", "héllo"},
		{"text empty", OIDText, "", ""},
		{"varchar", OIDVarchar, "v", "v"},
		{"bpchar", 1042, "padded ", "padded "},
		{"name", 19, "pg_type", "pg_type"},
		{"enum", 17000, "happy", "happy"},
		{"bytea", OIDBytea, []byte{0x00, 0xFF, 0x10}, []byte{0x00, 0xFF, 0x10}},
		{"json object", OIDJSON, map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
		{"json array", OIDJSON, []any{float64(1), "x"}, []any{float64(1), "x"}},
		{"json scalar", OIDJSON, "str", "str"},
		{"jsonb object", OIDJSONB, map[string]any{"k": true}, map[string]any{"k": true}},
		{"void", 2278, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, roundTrip(t, r, tt.oid, tt.in))
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	r := testRegistry()

	ts := time.Date(2024, 3, 15, 10, 30, 0, 123456000, time.UTC)
	got := roundTrip(t, r, OIDTimestamptz, ts).(time.Time)
	assert.True(t, ts.Equal(got), "want %v, got %v", ts, got)

	// The PostgreSQL epoch itself encodes as zero microseconds.
	b, err := r.Encode(OIDTimestamp, pgEpoch)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, b)

	// Pre-epoch values are negative offsets.
	before := time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC)
	got = roundTrip(t, r, OIDTimestamp, before).(time.Time)
	assert.True(t, before.Equal(got))
}

func TestJSONBVersionByte(t *testing.T) {
	r := testRegistry()

	b, err := r.Encode(OIDJSONB, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, byte(1), b[0])

	_, err = r.Decode(OIDJSONB, append([]byte{2}, []byte("{}")...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jsonb version")
}

func TestSendTypeMismatches(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name string
		oid  uint32
		in   any
		want string
	}{
		{"string for int4", OIDInt4, "5", "Expected number, got string"},
		{"bool for int8", OIDInt8, true, "Expected number, got boolean"},
		{"number for text", OIDText, 1, "Expected string, got number"},
		{"array for bool", OIDBool, []any{}, "Expected boolean, got array"},
		{"string for timestamp", OIDTimestamp, "now", "Expected timestamp, got string"},
		{"object for bytea", OIDBytea, map[string]any{}, "Expected bytes, got object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Encode(tt.oid, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.True(t, errs.IsCodec(err))
		})
	}
}

func TestIntRangeChecks(t *testing.T) {
	r := testRegistry()

	_, err := r.Encode(OIDInt2, 40000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range for int2")

	_, err = r.Encode(OIDInt4, int64(math.MaxInt32)+1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range for int4")
}

func TestDecodeLengthChecks(t *testing.T) {
	r := testRegistry()

	_, err := r.Decode(OIDBool, []byte{1, 0})
	assert.Error(t, err)
	_, err = r.Decode(OIDInt4, []byte{0, 0, 0})
	assert.Error(t, err)
	_, err = r.Decode(OIDInt8, []byte{0})
	assert.Error(t, err)
}

func TestUnknownAndUnsupportedTypes(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode(99999, []byte{})
	require.Error(t, err)
	assert.Equal(t, "Unknown type: oid 99999", err.Error())

	r.Replace([]TypeRow{{OID: 600, Name: "point", Kind: KindBase, RecvName: "point_recv", SendName: "point_send"}})
	_, err = r.Encode(600, "(1,1)")
	require.Error(t, err)
	assert.Equal(t, "Unsupported type: point (oid 600, typsend point_send)", err.Error())

	_, err = r.Decode(600, []byte{})
	require.Error(t, err)
	assert.Equal(t, "Unsupported type: point (oid 600, typreceive point_recv)", err.Error())
}

func TestBootstrapRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 4, r.Len())

	for _, oid := range []uint32{OIDInt4, OIDText, OIDInt4Array, OIDTextArray} {
		_, ok := r.Lookup(oid)
		assert.True(t, ok, "bootstrap oid %d missing", oid)
	}

	// Replace overlays the bootstrap set rather than discarding it.
	r.Replace([]TypeRow{{OID: OIDBool, Name: "bool", Kind: KindBase, RecvName: "boolrecv", SendName: "boolsend"}})
	_, ok := r.Lookup(OIDInt4)
	assert.True(t, ok)
	_, ok = r.Lookup(OIDBool)
	assert.True(t, ok)
}
