package wire

import (
	"bufio"
	"io"
)

// Writer builds frontend messages into an internal buffer and writes
// them out in batches. All message methods only append; nothing reaches
// the connection until Flush. This matches how the extended-query
// pipeline is driven: several messages are authored, then sent as one
// write.
type Writer struct {
	w   *bufio.Writer
	buf WriteBuffer
}

// NewWriter wraps an io.Writer for sending frontend messages.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Flush writes all buffered messages to the connection.
func (w *Writer) Flush() error {
	if _, err := w.w.Write(w.buf.Bytes()); err != nil {
		w.buf.Reset()
		return err
	}
	w.buf.Reset()
	return w.w.Flush()
}

// SSLRequest appends the untyped SSL negotiation sentinel.
func (w *Writer) SSLRequest() {
	w.buf.StartUntyped()
	w.buf.Int32(SSLRequestCode)
	w.buf.Finish()
}

// Startup appends the untyped StartupMessage with the given parameters.
func (w *Writer) Startup(params map[string]string) {
	w.buf.StartUntyped()
	w.buf.Int32(ProtocolVersion)
	for k, v := range params {
		w.buf.String(k)
		w.buf.String(v)
	}
	w.buf.Byte(0)
	w.buf.Finish()
}

// Password appends a PasswordMessage.
func (w *Writer) Password(password string) {
	w.buf.Start(MsgPasswordMessage)
	w.buf.String(password)
	w.buf.Finish()
}

// Parse appends a Parse message for the named prepared statement. No
// parameter types are declared; the server infers them and reports the
// result through Describe.
func (w *Writer) Parse(statement, query string) {
	w.buf.Start(MsgParse)
	w.buf.String(statement)
	w.buf.String(query)
	w.buf.Int16(0)
	w.buf.Finish()
}

// Describe appends a Describe message for a statement or portal.
func (w *Writer) Describe(kind byte, name string) {
	w.buf.Start(MsgDescribe)
	w.buf.Byte(kind)
	w.buf.String(name)
	w.buf.Finish()
}

// Bind appends a Bind message binding params to the named statement on
// the given portal. Every parameter and every result column uses the
// binary format; a nil param encodes as NULL.
func (w *Writer) Bind(portal, statement string, params [][]byte) {
	w.buf.Start(MsgBind)
	w.buf.String(portal)
	w.buf.String(statement)
	w.buf.Int16(1)
	w.buf.Int16(FormatBinary)
	w.buf.Int16(int16(len(params)))
	for _, p := range params {
		if p == nil {
			w.buf.Int32(-1)
			continue
		}
		w.buf.Int32(int32(len(p)))
		w.buf.Write(p)
	}
	w.buf.Int16(1)
	w.buf.Int16(FormatBinary)
	w.buf.Finish()
}

// Execute appends an Execute message for the named portal. maxRows zero
// means no limit.
func (w *Writer) Execute(portal string, maxRows int32) {
	w.buf.Start(MsgExecute)
	w.buf.String(portal)
	w.buf.Int32(maxRows)
	w.buf.Finish()
}

// Sync appends a Sync message, closing the current pipeline.
func (w *Writer) Sync() {
	w.buf.Start(MsgSync)
	w.buf.Finish()
}

// FlushRequest appends a protocol Flush message, asking the server to
// deliver pending responses without closing the pipeline.
func (w *Writer) FlushRequest() {
	w.buf.Start(MsgFlush)
	w.buf.Finish()
}

// Close appends a Close message for a statement or portal.
func (w *Writer) Close(kind byte, name string) {
	w.buf.Start(MsgClose)
	w.buf.Byte(kind)
	w.buf.String(name)
	w.buf.Finish()
}

// Query appends a simple-protocol Query message.
func (w *Writer) Query(sql string) {
	w.buf.Start(MsgQuery)
	w.buf.String(sql)
	w.buf.Finish()
}

// Terminate appends a Terminate message.
func (w *Writer) Terminate() {
	w.buf.Start(MsgTerminate)
	w.buf.Finish()
}
