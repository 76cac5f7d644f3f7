package pgwire

import (
	"fmt"

	"github.com/koustreak/pgwire/errs"
	"github.com/koustreak/pgwire/wire"
)

// ErrConnClosed rejects every operation that is pending when the
// connection terminates, and every operation issued afterwards. The
// message text is part of the package contract.
var ErrConnClosed = errs.New(errs.KindLifecycle, "Connection closed before query finished.")

// PgError is an error reported by the server through an ErrorResponse.
// All diagnostic fields are carried verbatim.
type PgError struct {
	Severity         string
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

func (e *PgError) Error() string {
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
}

// IsFatal reports whether the server is terminating the session.
func (e *PgError) IsFatal() bool {
	return e.Severity == "FATAL" || e.Severity == "PANIC"
}

// ErrKind classifies a PgError for the errs predicates.
func (e *PgError) ErrKind() errs.Kind {
	return errs.KindServer
}

// Notice is a NoticeResponse from the server. It shares PgError's field
// layout but is informational, not an error.
type Notice PgError

func pgErrorFromWire(d *wire.ErrorDetails) *PgError {
	return &PgError{
		Severity:         d.Severity,
		SeverityLocal:    d.SeverityLocal,
		Code:             d.Code,
		Message:          d.Message,
		Detail:           d.Detail,
		Hint:             d.Hint,
		Position:         d.Position,
		InternalPosition: d.InternalPosition,
		InternalQuery:    d.InternalQuery,
		Where:            d.Where,
		SchemaName:       d.SchemaName,
		TableName:        d.TableName,
		ColumnName:       d.ColumnName,
		DataTypeName:     d.DataTypeName,
		ConstraintName:   d.ConstraintName,
		File:             d.File,
		Line:             d.Line,
		Routine:          d.Routine,
	}
}

func noticeFromWire(d *wire.ErrorDetails) *Notice {
	return (*Notice)(pgErrorFromWire(d))
}

func errStatementClosed(name string) error {
	return errs.Newf(errs.KindContract, "prepared statement %s is closed", name)
}
