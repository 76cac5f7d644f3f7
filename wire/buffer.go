package wire

import (
	"encoding/binary"

	"github.com/koustreak/pgwire/errs"
)

// ReadBuffer parses a single message body. Accessors record the first
// failure instead of returning it at every call; Close reports that
// failure, or a protocol error if body bytes were left unconsumed.
type ReadBuffer struct {
	b   []byte
	off int
	err error
}

// NewReadBuffer wraps a message body for parsing.
func NewReadBuffer(body []byte) *ReadBuffer {
	return &ReadBuffer{b: body}
}

func (r *ReadBuffer) fail(msg string) {
	if r.err == nil {
		r.err = errs.New(errs.KindProtocol, msg)
	}
}

// Remaining reports the unconsumed byte count.
func (r *ReadBuffer) Remaining() int {
	return len(r.b) - r.off
}

// Err returns the first accessor failure, if any.
func (r *ReadBuffer) Err() error {
	return r.err
}

// Close asserts that the body was consumed exactly.
func (r *ReadBuffer) Close() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return errs.Newf(errs.KindProtocol, "message body has %d unconsumed bytes", len(r.b)-r.off)
	}
	return nil
}

// Byte reads a single byte.
func (r *ReadBuffer) Byte() byte {
	if r.err != nil || r.Remaining() < 1 {
		r.fail("unexpected end of message body")
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

// Int16 reads a signed 16-bit big-endian integer.
func (r *ReadBuffer) Int16() int16 {
	if r.err != nil || r.Remaining() < 2 {
		r.fail("unexpected end of message body")
		return 0
	}
	v := int16(binary.BigEndian.Uint16(r.b[r.off:]))
	r.off += 2
	return v
}

// Int32 reads a signed 32-bit big-endian integer.
func (r *ReadBuffer) Int32() int32 {
	if r.err != nil || r.Remaining() < 4 {
		r.fail("unexpected end of message body")
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return v
}

// Uint32 reads an unsigned 32-bit big-endian integer (OIDs).
func (r *ReadBuffer) Uint32() uint32 {
	return uint32(r.Int32())
}

// String reads a NUL-terminated UTF-8 string.
func (r *ReadBuffer) String() string {
	if r.err != nil {
		return ""
	}
	for i := r.off; i < len(r.b); i++ {
		if r.b[i] == 0 {
			s := string(r.b[r.off:i])
			r.off = i + 1
			return s
		}
	}
	r.fail("unterminated string in message body")
	return ""
}

// Bytes reads a counted run of n bytes. The returned slice aliases the
// body; callers that retain it must copy.
func (r *ReadBuffer) Bytes(n int) []byte {
	if r.err != nil || n < 0 || r.Remaining() < n {
		r.fail("unexpected end of message body")
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

// WriteBuffer accumulates one or more outbound frames. Each frame starts
// with Start (or StartUntyped for the two untyped messages) and is
// sealed by Finish, which back-patches the length word.
type WriteBuffer struct {
	b        []byte
	lenStart int
}

// Start begins a typed frame.
func (w *WriteBuffer) Start(typ byte) {
	w.b = append(w.b, typ)
	w.startLength()
}

// StartUntyped begins a frame with no type byte (StartupMessage, SSLRequest).
func (w *WriteBuffer) StartUntyped() {
	w.startLength()
}

func (w *WriteBuffer) startLength() {
	w.lenStart = len(w.b)
	w.b = append(w.b, 0, 0, 0, 0)
}

// Finish seals the current frame by writing its length, which counts the
// length word itself but not the type byte.
func (w *WriteBuffer) Finish() {
	binary.BigEndian.PutUint32(w.b[w.lenStart:], uint32(len(w.b)-w.lenStart))
}

// Bytes returns the accumulated frames.
func (w *WriteBuffer) Bytes() []byte {
	return w.b
}

// Reset discards all accumulated frames, retaining capacity.
func (w *WriteBuffer) Reset() {
	w.b = w.b[:0]
}

// Byte appends a single byte.
func (w *WriteBuffer) Byte(v byte) {
	w.b = append(w.b, v)
}

// Int16 appends a signed 16-bit big-endian integer.
func (w *WriteBuffer) Int16(v int16) {
	w.b = binary.BigEndian.AppendUint16(w.b, uint16(v))
}

// Int32 appends a signed 32-bit big-endian integer.
func (w *WriteBuffer) Int32(v int32) {
	w.b = binary.BigEndian.AppendUint32(w.b, uint32(v))
}

// Uint32 appends an unsigned 32-bit big-endian integer (OIDs).
func (w *WriteBuffer) Uint32(v uint32) {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
}

// String appends a NUL-terminated string.
func (w *WriteBuffer) String(s string) {
	w.b = append(w.b, s...)
	w.b = append(w.b, 0)
}

// Write appends raw bytes.
func (w *WriteBuffer) Write(p []byte) {
	w.b = append(w.b, p...)
}
