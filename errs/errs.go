// Package errs provides the unified error type used across pgwire.
//
// Every subsystem (wire codec, type codecs, connection core) wraps its
// failures into *errs.Error before returning them to callers. Callers use
// the Is* predicates to handle errors without inspecting message text.
//
// Usage:
//
//	// In a codec — classify the failure:
//	return errs.New(errs.KindCodec, "Unknown type: oid 99999")
//
//	// In application code — check the error kind:
//	if errs.IsLifecycle(err) {
//	    // connection is gone, reconnect
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error without exposing subsystem-specific detail.
// Every error produced by this module maps to exactly one kind.
type Kind int

const (
	KindUnknown          Kind = iota
	KindProtocol              // malformed or unexpected wire traffic; fatal to the connection
	KindServer                // ErrorResponse reported by the server (see pgwire.PgError)
	KindCodec                 // value encode/decode failure
	KindLifecycle             // operation pending at, or issued after, connection close
	KindContract              // caller violated an API contract (bad arity, row shape, …)
	KindAuth                  // authentication failed or method unsupported
	KindConnectionFailed      // transport could not be established
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindCodec:
		return "codec"
	case KindLifecycle:
		return "lifecycle"
	case KindContract:
		return "contract"
	case KindAuth:
		return "auth"
	case KindConnectionFailed:
		return "connection_failed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all pgwire subsystems.
// The message is user-facing and carries no kind prefix: several error
// texts are part of the package's API contract and must match exactly.
type Error struct {
	Kind    Kind
	Message string
	Cause   error // original lower-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsProtocol reports whether err is a wire-protocol violation.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }

// IsServer reports whether err originated in a server ErrorResponse.
func IsServer(err error) bool { return KindOf(err) == KindServer }

// IsCodec reports whether err is a value encode/decode failure.
func IsCodec(err error) bool { return KindOf(err) == KindCodec }

// IsLifecycle reports whether err was caused by the connection closing.
func IsLifecycle(err error) bool { return KindOf(err) == KindLifecycle }

// IsContract reports whether err was caused by the caller violating an
// API contract.
func IsContract(err error) bool { return KindOf(err) == KindContract }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsConnectionFailed reports whether err is a transport-level failure.
func IsConnectionFailed(err error) bool { return KindOf(err) == KindConnectionFailed }

// Kinder lets error types outside this package report a Kind without
// wrapping (the server-reported PgError does this).
type Kinder interface {
	ErrKind() Kind
}

// KindOf extracts the Kind from any error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrKind()
	}
	return KindUnknown
}
