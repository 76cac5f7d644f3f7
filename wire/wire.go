// Package wire implements the framing layer of the PostgreSQL v3
// frontend/backend protocol: length-prefixed tagged frames, the closed
// set of backend messages this client understands, and a buffered writer
// for the frontend messages it sends.
package wire

// ProtocolVersion is protocol 3.0 (3 << 16).
const ProtocolVersion int32 = 196608

// SSLRequestCode is the sentinel "version" of the untyped SSLRequest
// message sent before the real startup message to negotiate TLS.
const SSLRequestCode int32 = 80877103

// Frontend (client → server) message types.
const (
	MsgBind            byte = 'B'
	MsgClose           byte = 'C'
	MsgDescribe        byte = 'D'
	MsgExecute         byte = 'E'
	MsgFlush           byte = 'H'
	MsgParse           byte = 'P'
	MsgPasswordMessage byte = 'p'
	MsgQuery           byte = 'Q'
	MsgSync            byte = 'S'
	MsgTerminate       byte = 'X'
)

// Backend (server → client) message types.
const (
	MsgAuthentication        byte = 'R'
	MsgBackendKeyData        byte = 'K'
	MsgBindComplete          byte = '2'
	MsgCloseComplete         byte = '3'
	MsgCommandComplete       byte = 'C'
	MsgDataRow               byte = 'D'
	MsgEmptyQueryResponse    byte = 'I'
	MsgErrorResponse         byte = 'E'
	MsgNoData                byte = 'n'
	MsgNoticeResponse        byte = 'N'
	MsgNotificationResponse  byte = 'A'
	MsgParameterDescription  byte = 't'
	MsgParameterStatus       byte = 'S'
	MsgParseComplete         byte = '1'
	MsgReadyForQuery         byte = 'Z'
	MsgRowDescription        byte = 'T'
)

// Authentication sub-types (carried inside 'R' messages).
const (
	AuthOk                int32 = 0
	AuthCleartextPassword int32 = 3
	AuthMD5Password       int32 = 5
	AuthSASL              int32 = 10
)

// Transaction status indicators for ReadyForQuery.
const (
	TxIdle   byte = 'I'
	TxInTx   byte = 'T'
	TxFailed byte = 'E'
)

// Describe / Close target kinds.
const (
	TargetStatement byte = 'S'
	TargetPortal    byte = 'P'
)

// FormatBinary is the only parameter and result format this client uses.
const FormatBinary int16 = 1
