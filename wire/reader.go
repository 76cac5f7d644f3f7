package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/koustreak/pgwire/errs"
)

// maxMessageSize bounds a single frame; anything larger is treated as a
// framing error rather than an allocation request.
const maxMessageSize = 32 << 20

// Reader reads backend messages from a connection.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps an io.Reader for reading backend messages.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Receive reads and parses the next backend message. Premature EOF
// surfaces as a protocol error wrapping io.ErrUnexpectedEOF; a clean EOF
// between frames is returned as io.EOF.
func (r *Reader) Receive() (BackendMessage, error) {
	typ, err := r.r.ReadByte()
	if err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "short message header", noEOF(err))
	}
	length := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 4 || length > maxMessageSize {
		return nil, errs.Newf(errs.KindProtocol, "invalid message length %d", length)
	}

	body := make([]byte, length-4)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "short message body", noEOF(err))
	}

	return parseBackend(typ, body)
}

// ReceiveSSLResponse reads the single-byte reply to an SSLRequest.
func (r *Reader) ReceiveSSLResponse() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, errs.Wrap(errs.KindProtocol, "reading SSL negotiation response", err)
	}
	return b, nil
}

// noEOF rewrites a bare EOF inside a frame to ErrUnexpectedEOF so the
// caller can distinguish it from a clean connection shutdown.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
