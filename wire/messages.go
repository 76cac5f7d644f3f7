package wire

import (
	"strconv"

	"github.com/koustreak/pgwire/errs"
)

// BackendMessage is implemented by every server-originated message.
type BackendMessage interface {
	backend()
}

// ColumnDesc describes one column in a RowDescription message.
type ColumnDesc struct {
	Name     string
	TableOID uint32
	AttrNum  int16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
	Format   int16
}

// ErrorDetails carries the tagged fields of an ErrorResponse or
// NoticeResponse body.
type ErrorDetails struct {
	Severity         string // always unlocalised ('V' field, 'S' as fallback)
	SeverityLocal    string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int
	InternalPosition int
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int
	Routine          string
}

// IsFatal reports whether the severity terminates the connection.
func (d *ErrorDetails) IsFatal() bool {
	return d.Severity == "FATAL" || d.Severity == "PANIC"
}

type (
	AuthenticationOk                struct{}
	AuthenticationCleartextPassword struct{}
	AuthenticationMD5Password       struct{ Salt [4]byte }
	BackendKeyData                  struct{ PID, SecretKey int32 }
	BindComplete                    struct{}
	CloseComplete                   struct{}
	CommandComplete                 struct{ Tag string }
	DataRow                         struct{ Values [][]byte } // nil element = NULL
	EmptyQueryResponse              struct{}
	ErrorResponse                   struct{ ErrorDetails }
	NoData                          struct{}
	NoticeResponse                  struct{ ErrorDetails }
	NotificationResponse            struct {
		PID     int32
		Channel string
		Payload string
	}
	ParameterDescription struct{ TypeOIDs []uint32 }
	ParameterStatus      struct{ Name, Value string }
	ParseComplete        struct{}
	ReadyForQuery        struct{ TxStatus byte }
	RowDescription       struct{ Columns []ColumnDesc }
)

func (*AuthenticationOk) backend()                {}
func (*AuthenticationCleartextPassword) backend() {}
func (*AuthenticationMD5Password) backend()       {}
func (*BackendKeyData) backend()                  {}
func (*BindComplete) backend()                    {}
func (*CloseComplete) backend()                   {}
func (*CommandComplete) backend()                 {}
func (*DataRow) backend()                         {}
func (*EmptyQueryResponse) backend()              {}
func (*ErrorResponse) backend()                   {}
func (*NoData) backend()                          {}
func (*NoticeResponse) backend()                  {}
func (*NotificationResponse) backend()            {}
func (*ParameterDescription) backend()            {}
func (*ParameterStatus) backend()                 {}
func (*ParseComplete) backend()                   {}
func (*ReadyForQuery) backend()                   {}
func (*RowDescription) backend()                  {}

// Name returns the wire-protocol name of a backend message, for
// diagnostics and trace logging.
func Name(m BackendMessage) string {
	switch m.(type) {
	case *AuthenticationOk:
		return "AuthenticationOk"
	case *AuthenticationCleartextPassword:
		return "AuthenticationCleartextPassword"
	case *AuthenticationMD5Password:
		return "AuthenticationMD5Password"
	case *BackendKeyData:
		return "BackendKeyData"
	case *BindComplete:
		return "BindComplete"
	case *CloseComplete:
		return "CloseComplete"
	case *CommandComplete:
		return "CommandComplete"
	case *DataRow:
		return "DataRow"
	case *EmptyQueryResponse:
		return "EmptyQueryResponse"
	case *ErrorResponse:
		return "ErrorResponse"
	case *NoData:
		return "NoData"
	case *NoticeResponse:
		return "NoticeResponse"
	case *NotificationResponse:
		return "NotificationResponse"
	case *ParameterDescription:
		return "ParameterDescription"
	case *ParameterStatus:
		return "ParameterStatus"
	case *ParseComplete:
		return "ParseComplete"
	case *ReadyForQuery:
		return "ReadyForQuery"
	case *RowDescription:
		return "RowDescription"
	default:
		return "unknown"
	}
}

// parseBackend decodes a single backend message body. The returned
// message owns no part of body.
func parseBackend(typ byte, body []byte) (BackendMessage, error) {
	r := NewReadBuffer(body)
	var msg BackendMessage

	switch typ {
	case MsgAuthentication:
		sub := r.Int32()
		switch sub {
		case AuthOk:
			msg = &AuthenticationOk{}
		case AuthCleartextPassword:
			msg = &AuthenticationCleartextPassword{}
		case AuthMD5Password:
			m := &AuthenticationMD5Password{}
			copy(m.Salt[:], r.Bytes(4))
			msg = m
		case AuthSASL:
			return nil, errs.New(errs.KindAuth, "server requested SASL authentication, which is not supported")
		default:
			return nil, errs.Newf(errs.KindAuth, "server requested unsupported authentication method %d", sub)
		}
	case MsgBackendKeyData:
		msg = &BackendKeyData{PID: r.Int32(), SecretKey: r.Int32()}
	case MsgBindComplete:
		msg = &BindComplete{}
	case MsgCloseComplete:
		msg = &CloseComplete{}
	case MsgCommandComplete:
		msg = &CommandComplete{Tag: r.String()}
	case MsgDataRow:
		n := int(r.Int16())
		values := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			ln := r.Int32()
			if ln == -1 {
				values = append(values, nil)
				continue
			}
			v := make([]byte, ln)
			copy(v, r.Bytes(int(ln)))
			values = append(values, v)
		}
		msg = &DataRow{Values: values}
	case MsgEmptyQueryResponse:
		msg = &EmptyQueryResponse{}
	case MsgErrorResponse:
		m := &ErrorResponse{}
		parseErrorDetails(r, &m.ErrorDetails)
		msg = m
	case MsgNoData:
		msg = &NoData{}
	case MsgNoticeResponse:
		m := &NoticeResponse{}
		parseErrorDetails(r, &m.ErrorDetails)
		msg = m
	case MsgNotificationResponse:
		msg = &NotificationResponse{PID: r.Int32(), Channel: r.String(), Payload: r.String()}
	case MsgParameterDescription:
		n := int(r.Int16())
		oids := make([]uint32, 0, n)
		for i := 0; i < n; i++ {
			oids = append(oids, r.Uint32())
		}
		msg = &ParameterDescription{TypeOIDs: oids}
	case MsgParameterStatus:
		msg = &ParameterStatus{Name: r.String(), Value: r.String()}
	case MsgParseComplete:
		msg = &ParseComplete{}
	case MsgReadyForQuery:
		msg = &ReadyForQuery{TxStatus: r.Byte()}
	case MsgRowDescription:
		n := int(r.Int16())
		cols := make([]ColumnDesc, 0, n)
		for i := 0; i < n; i++ {
			cols = append(cols, ColumnDesc{
				Name:     r.String(),
				TableOID: r.Uint32(),
				AttrNum:  r.Int16(),
				TypeOID:  r.Uint32(),
				TypeSize: r.Int16(),
				TypeMod:  r.Int32(),
				Format:   r.Int16(),
			})
		}
		msg = &RowDescription{Columns: cols}
	default:
		return nil, errs.Newf(errs.KindProtocol, "unknown message type %q", typ)
	}

	if err := r.Close(); err != nil {
		return nil, err
	}
	return msg, nil
}

// parseErrorDetails reads the (tag, string) pairs of an ErrorResponse or
// NoticeResponse body, terminated by a zero tag. Unrecognised tags are
// skipped per protocol rules.
func parseErrorDetails(r *ReadBuffer, d *ErrorDetails) {
	for {
		tag := r.Byte()
		if tag == 0 || r.Err() != nil {
			return
		}
		val := r.String()
		switch tag {
		case 'V':
			d.Severity = val
		case 'S':
			d.SeverityLocal = val
			// Pre-9.6 servers omit 'V'; fall back to the localised field.
			if d.Severity == "" {
				d.Severity = val
			}
		case 'C':
			d.Code = val
		case 'M':
			d.Message = val
		case 'D':
			d.Detail = val
		case 'H':
			d.Hint = val
		case 'P':
			d.Position, _ = strconv.Atoi(val)
		case 'p':
			d.InternalPosition, _ = strconv.Atoi(val)
		case 'q':
			d.InternalQuery = val
		case 'W':
			d.Where = val
		case 's':
			d.SchemaName = val
		case 't':
			d.TableName = val
		case 'c':
			d.ColumnName = val
		case 'd':
			d.DataTypeName = val
		case 'n':
			d.ConstraintName = val
		case 'F':
			d.File = val
		case 'L':
			d.Line, _ = strconv.Atoi(val)
		case 'R':
			d.Routine = val
		}
	}
}
