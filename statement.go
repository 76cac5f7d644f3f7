package pgwire

import (
	"context"
	"sync"

	"github.com/koustreak/pgwire/wire"
)

// Statement is a named server-side prepared statement. It must not
// outlive its Connection; invocations after either the statement or the
// connection closes fail cleanly.
type Statement struct {
	conn      *Connection
	name      string
	paramOIDs []uint32
	columns   []Column

	mu     sync.Mutex
	closed bool
}

// Name returns the server-side statement name.
func (s *Statement) Name() string {
	return s.name
}

// ParamOIDs returns the statement's parameter type OIDs.
func (s *Statement) ParamOIDs() []uint32 {
	out := make([]uint32, len(s.paramOIDs))
	copy(out, s.paramOIDs)
	return out
}

// Columns returns the statement's result column metadata; empty for
// statements that return no rows.
func (s *Statement) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Query executes the statement and buffers the full result.
func (s *Statement) Query(ctx context.Context, args ...any) (*Result, error) {
	rows, err := s.QueryStream(ctx, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// QueryStream executes the statement and returns a streaming cursor
// which owns the connection's turn until exhausted or closed.
func (s *Statement) QueryStream(ctx context.Context, args ...any) (*Rows, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.conn.acquireLock(ctx); err != nil {
		return nil, err
	}
	return s.conn.executeLocked(ctx, s.name, s.paramOIDs, s.columns, args, false)
}

// Close deallocates the server-side statement. Idempotent.
func (s *Statement) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	c := s.conn
	if err := c.acquireLock(ctx); err != nil {
		return err
	}
	c.writer.Close(wire.TargetStatement, s.name)
	c.writer.Sync()
	if err := c.flush(); err != nil {
		return err
	}

	msg, err := c.receiveSync(ctx)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *wire.CloseComplete:
	case *wire.ErrorResponse:
		return c.failQuery(ctx, pgErrorFromWire(&m.ErrorDetails), true)
	default:
		return c.protocolErr("expected CloseComplete, got %s", wire.Name(msg))
	}

	if err := c.expectReady(ctx); err != nil {
		return err
	}
	c.releaseLock()
	return nil
}

func (s *Statement) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStatementClosed(s.name)
	}
	return nil
}
