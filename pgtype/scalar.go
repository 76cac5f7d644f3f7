package pgtype

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/koustreak/pgwire/errs"
)

type recvFunc func(data []byte) (any, error)
type sendFunc func(v any) ([]byte, error)

// scalarRecv dispatches on pg_type.typreceive. Several entries alias the
// same implementation: all the textual types share textrecv's layout, and
// oid is int4 on the wire.
var scalarRecv = map[string]recvFunc{
	"textrecv":        recvText,
	"varcharrecv":     recvText,
	"bpcharrecv":      recvText,
	"namerecv":        recvText,
	"enum_recv":       recvText,
	"boolrecv":        recvBool,
	"int2recv":        recvInt2,
	"int4recv":        recvInt4,
	"int8recv":        recvInt8,
	"oidrecv":         recvInt4,
	"float4recv":      recvFloat4,
	"float8recv":      recvFloat8,
	"bytearecv":       recvBytea,
	"timestamp_recv":  recvTimestamp,
	"timestamptz_recv": recvTimestamp,
	"json_recv":       recvJSON,
	"jsonb_recv":      recvJSONB,
	"void_recv":       recvVoid,
}

var scalarSend = map[string]sendFunc{
	"textsend":        sendText,
	"varcharsend":     sendText,
	"bpcharsend":      sendText,
	"namesend":        sendText,
	"enum_send":       sendText,
	"boolsend":        sendBool,
	"int2send":        sendInt2,
	"int4send":        sendInt4,
	"int8send":        sendInt8,
	"oidsend":         sendInt4,
	"float4send":      sendFloat4,
	"float8send":      sendFloat8,
	"byteasend":       sendBytea,
	"timestamp_send":  sendTimestamp,
	"timestamptz_send": sendTimestamp,
	"json_send":       sendJSON,
	"jsonb_send":      sendJSONB,
	"void_send":       sendVoid,
}

// pgEpoch is 2000-01-01T00:00:00Z; timestamps travel as microseconds
// relative to it.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// valueName names a Go value the way the codec error messages expect
// ("Expected number, got string").
func valueName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []byte:
		return "bytes"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case time.Time:
		return "timestamp"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return "array"
	}
	return reflect.TypeOf(v).String()
}

func expected(kind string, v any) error {
	return errs.Newf(errs.KindCodec, "Expected %s, got %s", kind, valueName(v))
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// --- text family ---

func recvText(data []byte) (any, error) {
	return string(data), nil
}

func sendText(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	}
	return nil, expected("string", v)
}

// --- bool ---

func recvBool(data []byte) (any, error) {
	if len(data) != 1 {
		return nil, errs.Newf(errs.KindCodec, "bool value has %d bytes, want 1", len(data))
	}
	return data[0] != 0, nil
}

func sendBool(v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, expected("boolean", v)
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// --- integers ---

func recvInt2(data []byte) (any, error) {
	if len(data) != 2 {
		return nil, errs.Newf(errs.KindCodec, "int2 value has %d bytes, want 2", len(data))
	}
	return int16(binary.BigEndian.Uint16(data)), nil
}

func recvInt4(data []byte) (any, error) {
	if len(data) != 4 {
		return nil, errs.Newf(errs.KindCodec, "int4 value has %d bytes, want 4", len(data))
	}
	return int32(binary.BigEndian.Uint32(data)), nil
}

func recvInt8(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, errs.Newf(errs.KindCodec, "int8 value has %d bytes, want 8", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

func sendInt2(v any) ([]byte, error) {
	n, ok := toInt64(v)
	if !ok {
		return nil, expected("number", v)
	}
	if n < math.MinInt16 || n > math.MaxInt16 {
		return nil, errs.Newf(errs.KindCodec, "value %d out of range for int2", n)
	}
	return binary.BigEndian.AppendUint16(nil, uint16(int16(n))), nil
}

func sendInt4(v any) ([]byte, error) {
	n, ok := toInt64(v)
	if !ok {
		return nil, expected("number", v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, errs.Newf(errs.KindCodec, "value %d out of range for int4", n)
	}
	return binary.BigEndian.AppendUint32(nil, uint32(int32(n))), nil
}

func sendInt8(v any) ([]byte, error) {
	n, ok := toInt64(v)
	if !ok {
		return nil, expected("number", v)
	}
	return binary.BigEndian.AppendUint64(nil, uint64(n)), nil
}

// --- floats (explicit big-endian; the wire format mandates it) ---

func recvFloat4(data []byte) (any, error) {
	if len(data) != 4 {
		return nil, errs.Newf(errs.KindCodec, "float4 value has %d bytes, want 4", len(data))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}

func recvFloat8(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, errs.Newf(errs.KindCodec, "float8 value has %d bytes, want 8", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

func sendFloat4(v any) ([]byte, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, expected("number", v)
	}
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
}

func sendFloat8(v any) ([]byte, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, expected("number", v)
	}
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(f)), nil
}

// --- bytea ---

func recvBytea(data []byte) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func sendBytea(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, expected("bytes", v)
}

// --- timestamps ---

func recvTimestamp(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, errs.Newf(errs.KindCodec, "timestamp value has %d bytes, want 8", len(data))
	}
	micros := int64(binary.BigEndian.Uint64(data))
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

func sendTimestamp(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, expected("timestamp", v)
	}
	micros := t.Sub(pgEpoch).Microseconds()
	return binary.BigEndian.AppendUint64(nil, uint64(micros)), nil
}

// --- json / jsonb ---

func recvJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errs.Wrap(errs.KindCodec, "invalid json from server", err)
	}
	return v, nil
}

func sendJSON(v any) ([]byte, error) {
	switch j := v.(type) {
	case json.RawMessage:
		return j, nil
	case []byte:
		return j, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.KindCodec, "value is not JSON-encodable", err)
	}
	return b, nil
}

// jsonbVersion is the only on-wire jsonb version PostgreSQL has ever
// shipped; the decoder rejects anything else rather than misparse.
const jsonbVersion = 1

func recvJSONB(data []byte) (any, error) {
	if len(data) < 1 {
		return nil, errs.New(errs.KindCodec, "empty jsonb value")
	}
	if data[0] != jsonbVersion {
		return nil, errs.Newf(errs.KindCodec, "unsupported jsonb version %d", data[0])
	}
	return recvJSON(data[1:])
}

func sendJSONB(v any) ([]byte, error) {
	b, err := sendJSON(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{jsonbVersion}, b...), nil
}

// --- void ---

func recvVoid([]byte) (any, error) {
	return nil, nil
}

func sendVoid(any) ([]byte, error) {
	return []byte{}, nil
}
