package pgwire

import (
	"context"
	"strconv"

	"github.com/koustreak/pgwire/errs"
	"github.com/koustreak/pgwire/wire"
)

// Column describes one result column as reported by the server's
// Describe. Format is always binary for this client.
type Column struct {
	Name     string
	TableOID uint32
	AttrNum  int16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
	Format   int16
}

func columnsFromWire(cols []wire.ColumnDesc) []Column {
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{
			Name:     c.Name,
			TableOID: c.TableOID,
			AttrNum:  c.AttrNum,
			TypeOID:  c.TypeOID,
			TypeSize: c.TypeSize,
			TypeMod:  c.TypeMod,
			Format:   c.Format,
		}
	}
	return out
}

// Query runs sql with the given parameters and buffers the full result.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	rows, err := c.QueryStream(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// QueryStream runs sql with the given parameters and returns a
// streaming cursor. The cursor owns the connection's turn until it is
// exhausted or closed; the caller must do one or the other.
//
// The statement is parsed, described, bound, and executed on the
// unnamed statement and portal in a single fused pipeline: Parse and
// Describe are answered via a protocol Flush so parameter types are
// known before Bind, with no intervening ReadyForQuery.
func (c *Connection) QueryStream(ctx context.Context, sql string, args ...any) (*Rows, error) {
	if err := c.acquireLock(ctx); err != nil {
		return nil, err
	}
	c.writer.Parse("", sql)
	c.writer.Describe(wire.TargetStatement, "")
	c.writer.FlushRequest()
	if err := c.flush(); err != nil {
		return nil, err
	}
	paramOIDs, cols, err := c.readPrepareReplies(ctx, false)
	if err != nil {
		return nil, err
	}
	return c.executeLocked(ctx, "", paramOIDs, cols, args, true)
}

// Prepare creates a named server-side prepared statement and returns
// its parameter and column metadata.
func (c *Connection) Prepare(ctx context.Context, sql string) (*Statement, error) {
	name := "s" + strconv.FormatUint(c.stmtSeq.Add(1), 10)
	if err := c.acquireLock(ctx); err != nil {
		return nil, err
	}
	c.writer.Parse(name, sql)
	c.writer.Describe(wire.TargetStatement, name)
	c.writer.Sync()
	if err := c.flush(); err != nil {
		return nil, err
	}
	paramOIDs, cols, err := c.readPrepareReplies(ctx, true)
	if err != nil {
		return nil, err
	}
	return &Statement{conn: c, name: name, paramOIDs: paramOIDs, columns: cols}, nil
}

// readPrepareReplies consumes the responses to a Parse+Describe batch:
// ParseComplete, ParameterDescription, then RowDescription or NoData.
// With syncSent it also consumes the closing ReadyForQuery and releases
// the lock.
func (c *Connection) readPrepareReplies(ctx context.Context, syncSent bool) ([]uint32, []Column, error) {
	fail := func(m *wire.ErrorResponse) error {
		return c.failQuery(ctx, pgErrorFromWire(&m.ErrorDetails), syncSent)
	}

	msg, err := c.receiveSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	switch m := msg.(type) {
	case *wire.ParseComplete:
	case *wire.ErrorResponse:
		return nil, nil, fail(m)
	default:
		return nil, nil, c.protocolErr("expected ParseComplete, got %s", wire.Name(msg))
	}

	msg, err = c.receiveSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	var paramOIDs []uint32
	switch m := msg.(type) {
	case *wire.ParameterDescription:
		paramOIDs = m.TypeOIDs
	case *wire.ErrorResponse:
		return nil, nil, fail(m)
	default:
		return nil, nil, c.protocolErr("expected ParameterDescription, got %s", wire.Name(msg))
	}

	msg, err = c.receiveSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	var cols []Column
	switch m := msg.(type) {
	case *wire.RowDescription:
		cols = columnsFromWire(m.Columns)
	case *wire.NoData:
	case *wire.ErrorResponse:
		return nil, nil, fail(m)
	default:
		return nil, nil, c.protocolErr("expected RowDescription or NoData, got %s", wire.Name(msg))
	}

	if syncSent {
		if err := c.expectReady(ctx); err != nil {
			return nil, nil, err
		}
		c.releaseLock()
	}
	return paramOIDs, cols, nil
}

// executeLocked binds params to the given statement on the unnamed
// portal and starts execution. The caller already holds the lock; on
// success the returned Rows inherits it. pipelineOpen marks the fused
// path, where Parse/Describe responses were flushed but no Sync has
// been sent yet.
func (c *Connection) executeLocked(ctx context.Context, stmt string, paramOIDs []uint32, cols []Column, args []any, pipelineOpen bool) (*Rows, error) {
	vals, err := c.encodeParams(paramOIDs, args)
	if err != nil {
		// Client-side failure before Bind: close the pipeline cleanly
		// and give the turn back before raising.
		if pipelineOpen {
			c.writer.Sync()
			if ferr := c.flush(); ferr == nil {
				if derr := c.drainToReady(ctx); derr == nil {
					c.releaseLock()
				}
			}
		} else {
			c.releaseLock()
		}
		return nil, err
	}

	c.writer.Bind("", stmt, vals)
	c.writer.Execute("", 0)
	c.writer.Sync()
	if err := c.flush(); err != nil {
		return nil, err
	}

	msg, err := c.receiveSync(ctx)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *wire.BindComplete:
	case *wire.ErrorResponse:
		return nil, c.failQuery(ctx, pgErrorFromWire(&m.ErrorDetails), true)
	default:
		return nil, c.protocolErr("expected BindComplete, got %s", wire.Name(msg))
	}

	return &Rows{conn: c, ctx: ctx, columns: cols}, nil
}

// encodeParams serialises query arguments against the statement's
// parameter types. nil encodes as NULL.
func (c *Connection) encodeParams(paramOIDs []uint32, args []any) ([][]byte, error) {
	if len(args) != len(paramOIDs) {
		return nil, errs.Newf(errs.KindContract, "query expects %d parameters, got %d", len(paramOIDs), len(args))
	}
	if len(args) == 0 {
		return nil, nil
	}
	vals := make([][]byte, len(args))
	for i, a := range args {
		if a == nil {
			vals[i] = nil
			continue
		}
		b, err := c.types.Encode(paramOIDs[i], a)
		if err != nil {
			return nil, errs.Newf(errs.KindCodec, "Error sending param $%d: %v", i+1, err)
		}
		vals[i] = b
	}
	return vals, nil
}

// decodeRow converts one DataRow into Go values using the column
// metadata from Describe.
func (c *Connection) decodeRow(cols []Column, vals [][]byte) ([]any, error) {
	if len(vals) != len(cols) {
		return nil, c.protocolErr("DataRow has %d values for %d columns", len(vals), len(cols))
	}
	row := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		d, err := c.types.Decode(cols[i].TypeOID, v)
		if err != nil {
			return nil, errs.Newf(errs.KindCodec, "Error receiving column $%d: %v", i+1, err)
		}
		row[i] = d
	}
	return row, nil
}
