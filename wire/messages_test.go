package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgwire/errs"
)

// frame builds one backend frame for the reader under test.
func frame(typ byte, body func(w *WriteBuffer)) []byte {
	var w WriteBuffer
	w.Start(typ)
	if body != nil {
		body(&w)
	}
	w.Finish()
	return w.Bytes()
}

func receiveOne(t *testing.T, raw []byte) BackendMessage {
	t.Helper()
	msg, err := NewReader(bytes.NewReader(raw)).Receive()
	require.NoError(t, err)
	return msg
}

func TestReceive_AuthenticationVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want BackendMessage
	}{
		{
			name: "ok",
			raw:  frame('R', func(w *WriteBuffer) { w.Int32(AuthOk) }),
			want: &AuthenticationOk{},
		},
		{
			name: "cleartext",
			raw:  frame('R', func(w *WriteBuffer) { w.Int32(AuthCleartextPassword) }),
			want: &AuthenticationCleartextPassword{},
		},
		{
			name: "md5",
			raw: frame('R', func(w *WriteBuffer) {
				w.Int32(AuthMD5Password)
				w.Write([]byte{1, 2, 3, 4})
			}),
			want: &AuthenticationMD5Password{Salt: [4]byte{1, 2, 3, 4}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, receiveOne(t, tt.raw))
		})
	}
}

func TestReceive_SASLUnsupported(t *testing.T) {
	raw := frame('R', func(w *WriteBuffer) {
		w.Int32(AuthSASL)
		w.String("SCRAM-SHA-256")
		w.Byte(0)
	})
	_, err := NewReader(bytes.NewReader(raw)).Receive()
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
}

func TestReceive_BackendKeyData(t *testing.T) {
	raw := frame('K', func(w *WriteBuffer) {
		w.Int32(1234)
		w.Int32(5678)
	})
	assert.Equal(t, &BackendKeyData{PID: 1234, SecretKey: 5678}, receiveOne(t, raw))
}

func TestReceive_DataRow(t *testing.T) {
	raw := frame('D', func(w *WriteBuffer) {
		w.Int16(3)
		w.Int32(2)
		w.Write([]byte{0xAA, 0xBB})
		w.Int32(-1) // NULL
		w.Int32(0)  // empty, non-NULL
	})
	msg := receiveOne(t, raw).(*DataRow)
	require.Len(t, msg.Values, 3)
	assert.Equal(t, []byte{0xAA, 0xBB}, msg.Values[0])
	assert.Nil(t, msg.Values[1])
	assert.Equal(t, []byte{}, msg.Values[2])
}

func TestReceive_RowDescription(t *testing.T) {
	raw := frame('T', func(w *WriteBuffer) {
		w.Int16(1)
		w.String("id")
		w.Uint32(16384)
		w.Int16(1)
		w.Uint32(23)
		w.Int16(4)
		w.Int32(-1)
		w.Int16(1)
	})
	msg := receiveOne(t, raw).(*RowDescription)
	require.Len(t, msg.Columns, 1)
	assert.Equal(t, ColumnDesc{
		Name:     "id",
		TableOID: 16384,
		AttrNum:  1,
		TypeOID:  23,
		TypeSize: 4,
		TypeMod:  -1,
		Format:   1,
	}, msg.Columns[0])
}

func TestReceive_ErrorResponseFields(t *testing.T) {
	raw := frame('E', func(w *WriteBuffer) {
		w.Byte('V')
		w.String("ERROR")
		w.Byte('S')
		w.String("FEHLER")
		w.Byte('C')
		w.String("42601")
		w.Byte('M')
		w.String(`syntax error at or near "SELEKT"`)
		w.Byte('P')
		w.String("1")
		w.Byte('L')
		w.String("512")
		w.Byte('Z') // unknown tag must be skipped
		w.String("ignored")
		w.Byte(0)
	})
	msg := receiveOne(t, raw).(*ErrorResponse)
	assert.Equal(t, "ERROR", msg.Severity)
	assert.Equal(t, "FEHLER", msg.SeverityLocal)
	assert.Equal(t, "42601", msg.Code)
	assert.Contains(t, msg.Message, "syntax error")
	assert.Equal(t, 1, msg.Position)
	assert.Equal(t, 512, msg.Line)
	assert.False(t, msg.IsFatal())
}

func TestReceive_FatalSeverity(t *testing.T) {
	raw := frame('E', func(w *WriteBuffer) {
		w.Byte('V')
		w.String("FATAL")
		w.Byte('M')
		w.String("terminating connection due to administrator command")
		w.Byte(0)
	})
	msg := receiveOne(t, raw).(*ErrorResponse)
	assert.True(t, msg.IsFatal())
}

func TestReceive_NotificationResponse(t *testing.T) {
	raw := frame('A', func(w *WriteBuffer) {
		w.Int32(99)
		w.String("jobs")
		w.String("payload")
	})
	assert.Equal(t, &NotificationResponse{PID: 99, Channel: "jobs", Payload: "payload"}, receiveOne(t, raw))
}

func TestReceive_ParameterDescription(t *testing.T) {
	raw := frame('t', func(w *WriteBuffer) {
		w.Int16(2)
		w.Uint32(23)
		w.Uint32(25)
	})
	assert.Equal(t, &ParameterDescription{TypeOIDs: []uint32{23, 25}}, receiveOne(t, raw))
}

func TestReceive_ReadyForQuery(t *testing.T) {
	raw := frame('Z', func(w *WriteBuffer) { w.Byte(TxIdle) })
	assert.Equal(t, &ReadyForQuery{TxStatus: TxIdle}, receiveOne(t, raw))
}

func TestReceive_UnknownType(t *testing.T) {
	raw := frame('?', nil)
	_, err := NewReader(bytes.NewReader(raw)).Receive()
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
	assert.Contains(t, err.Error(), "unknown message type")
}

func TestReceive_TrailingBodyBytes(t *testing.T) {
	// A ReadyForQuery with one extra byte must fail the exact-consumption
	// assertion.
	raw := frame('Z', func(w *WriteBuffer) {
		w.Byte(TxIdle)
		w.Byte(0x00)
	})
	_, err := NewReader(bytes.NewReader(raw)).Receive()
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
}

func TestReceive_PrematureEOF(t *testing.T) {
	raw := frame('K', func(w *WriteBuffer) {
		w.Int32(1)
		w.Int32(2)
	})
	_, err := NewReader(bytes.NewReader(raw[:6])).Receive()
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
}

func TestReceive_CleanEOF(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil)).Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceive_InvalidLength(t *testing.T) {
	raw := []byte{'Z', 0x00, 0x00, 0x00, 0x01}
	_, err := NewReader(bytes.NewReader(raw)).Receive()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid message length")
}

func TestReceive_Sequence(t *testing.T) {
	var raw []byte
	raw = append(raw, frame('1', nil)...)
	raw = append(raw, frame('2', nil)...)
	raw = append(raw, frame('C', func(w *WriteBuffer) { w.String("SELECT 1") })...)
	raw = append(raw, frame('Z', func(w *WriteBuffer) { w.Byte(TxIdle) })...)

	r := NewReader(bytes.NewReader(raw))
	names := []string{}
	for i := 0; i < 4; i++ {
		msg, err := r.Receive()
		require.NoError(t, err)
		names = append(names, Name(msg))
	}
	assert.Equal(t, []string{"ParseComplete", "BindComplete", "CommandComplete", "ReadyForQuery"}, names)
}

func TestWriter_StartupMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Startup(map[string]string{"user": "u"})
	require.NoError(t, w.Flush())

	raw := buf.Bytes()
	// length: 4 (len) + 4 (version) + "user\0u\0" + terminator
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x10}, raw[:4])
	assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x00}, raw[4:8]) // 196608
	assert.Equal(t, "user\x00u\x00\x00", string(raw[8:]))
}

func TestWriter_BindNullAndValues(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Bind("", "s1", [][]byte{{0x00, 0x00, 0x00, 0x2A}, nil})
	require.NoError(t, w.Flush())

	raw := buf.Bytes()
	assert.Equal(t, byte('B'), raw[0])

	r := NewReadBuffer(raw[5:])
	assert.Equal(t, "", r.String())   // portal
	assert.Equal(t, "s1", r.String()) // statement
	assert.Equal(t, int16(1), r.Int16())
	assert.Equal(t, FormatBinary, r.Int16())
	assert.Equal(t, int16(2), r.Int16())
	assert.Equal(t, int32(4), r.Int32())
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x2A}, r.Bytes(4))
	assert.Equal(t, int32(-1), r.Int32())
	assert.Equal(t, int16(1), r.Int16())
	assert.Equal(t, FormatBinary, r.Int16())
	require.NoError(t, r.Close())
}

func TestWriter_ParseDescribeSyncBatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Parse("s1", "SELECT 1")
	w.Describe(TargetStatement, "s1")
	w.Sync()
	require.NoError(t, w.Flush())

	raw := buf.Bytes()
	assert.Equal(t, byte('P'), raw[0])
	// Nothing is written to the stream until Flush.
	buf.Reset()
	w.Terminate()
	assert.Zero(t, buf.Len())
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{'X', 0x00, 0x00, 0x00, 0x04}, buf.Bytes())
}
