package pgwire

import (
	"context"
	"strconv"
	"strings"

	"github.com/koustreak/pgwire/errs"
	"github.com/koustreak/pgwire/wire"
)

// CommandTag is the parsed form of a CommandComplete tag.
type CommandTag struct {
	tag     string
	rows    int64
	hasRows bool
}

// parseTag extracts the affected-row count: "INSERT oid n" carries it in
// the third word, the other row-counting commands in the second.
func parseTag(s string) CommandTag {
	t := CommandTag{tag: s}
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return t
	}
	idx := -1
	switch parts[0] {
	case "INSERT":
		idx = 2
	case "SELECT", "UPDATE", "DELETE", "MOVE", "FETCH", "COPY":
		idx = 1
	}
	if idx > 0 && idx < len(parts) {
		if n, err := strconv.ParseInt(parts[idx], 10, 64); err == nil {
			t.rows, t.hasRows = n, true
		}
	}
	return t
}

// String returns the raw server tag ("SELECT 1", "UPDATE 3", …).
func (t CommandTag) String() string {
	return t.tag
}

// RowsAffected returns the affected-row count when the tag carries one.
func (t CommandTag) RowsAffected() (int64, bool) {
	return t.rows, t.hasRows
}

// Rows is a streaming result cursor. It owns the connection's turn from
// creation until the stream completes or Close is called; breaking out
// of iteration early requires Close, which drains the remaining rows so
// the session returns to its clean state.
type Rows struct {
	conn    *Connection
	ctx     context.Context
	columns []Column
	current []any
	tag     CommandTag
	tagSet  bool
	done    bool // completed normally; lock released
	closed  bool // terminal for any other reason
	err     error
}

// Columns returns the result's column metadata.
func (r *Rows) Columns() []Column {
	return r.columns
}

// Next advances to the next row. It returns false at end of stream or
// on error; check Err afterwards.
func (r *Rows) Next() bool {
	if r.done || r.closed || r.err != nil {
		return false
	}
	msg, err := r.conn.receiveSync(r.ctx)
	if err != nil {
		r.err = err
		r.closed = true
		return false
	}
	switch m := msg.(type) {
	case *wire.DataRow:
		row, err := r.conn.decodeRow(r.columns, m.Values)
		if err != nil {
			// Decode failures are client-side: the stream is intact and
			// Close will drain it.
			r.err = err
			return false
		}
		r.current = row
		return true
	case *wire.CommandComplete:
		r.tag, r.tagSet = parseTag(m.Tag), true
		r.finish()
		return false
	case *wire.EmptyQueryResponse:
		r.finish()
		return false
	case *wire.ErrorResponse:
		r.serverFail(pgErrorFromWire(&m.ErrorDetails))
		return false
	default:
		r.err = r.conn.protocolErr("unexpected %s while streaming rows", wire.Name(msg))
		r.closed = true
		return false
	}
}

// finish consumes the closing ReadyForQuery and releases the turn.
func (r *Rows) finish() {
	if err := r.conn.expectReady(r.ctx); err != nil {
		r.err = err
		r.closed = true
		return
	}
	r.conn.releaseLock()
	r.done = true
}

// serverFail recovers from a server error raised mid-stream: the
// session is drained back to ReadyForQuery and the turn released, so
// the connection stays usable.
func (r *Rows) serverFail(pgErr error) {
	r.closed = true
	if err := r.conn.drainToReady(r.ctx); err != nil {
		r.err = err
		return
	}
	r.conn.releaseLock()
	r.err = pgErr
}

// Values returns the current row. The slice is owned by the caller.
func (r *Rows) Values() []any {
	return r.current
}

// Err returns the terminal error, if any.
func (r *Rows) Err() error {
	return r.err
}

// CommandTag returns the completion tag once the stream has ended.
func (r *Rows) CommandTag() (CommandTag, bool) {
	return r.tag, r.tagSet
}

// Close abandons the stream. If rows remain they are read and discarded
// through CommandComplete and ReadyForQuery, preserving the turn
// invariant; afterwards the connection is immediately usable.
func (r *Rows) Close() error {
	if r.done || r.closed {
		r.closed = true
		return nil
	}
	r.closed = true
	for {
		msg, err := r.conn.receiveSync(r.ctx)
		if err != nil {
			if r.err == nil {
				r.err = err
			}
			return r.err
		}
		switch m := msg.(type) {
		case *wire.DataRow:
		case *wire.CommandComplete:
			if !r.tagSet {
				r.tag, r.tagSet = parseTag(m.Tag), true
			}
			if err := r.conn.expectReady(r.ctx); err != nil {
				if r.err == nil {
					r.err = err
				}
				return r.err
			}
			r.conn.releaseLock()
			return nil
		case *wire.EmptyQueryResponse:
			if err := r.conn.expectReady(r.ctx); err != nil {
				if r.err == nil {
					r.err = err
				}
				return r.err
			}
			r.conn.releaseLock()
			return nil
		case *wire.ErrorResponse:
			pgErr := pgErrorFromWire(&m.ErrorDetails)
			if err := r.conn.drainToReady(r.ctx); err != nil {
				if r.err == nil {
					r.err = err
				}
				return r.err
			}
			r.conn.releaseLock()
			if r.err == nil {
				r.err = pgErr
			}
			return r.err
		default:
			err := r.conn.protocolErr("unexpected %s while draining rows", wire.Name(msg))
			if r.err == nil {
				r.err = err
			}
			return r.err
		}
	}
}

// ReadAll drains the remaining rows into a buffered Result, releasing
// the connection's turn.
func (r *Rows) ReadAll() (*Result, error) {
	var out [][]any
	for r.Next() {
		out = append(out, r.Values())
	}
	if err := r.Err(); err != nil {
		r.Close()
		return nil, err
	}
	tag, _ := r.CommandTag()
	return &Result{columns: r.Columns(), rows: out, tag: tag}, nil
}

// collect buffers a streaming cursor into a Result.
func collect(rows *Rows) (*Result, error) {
	return rows.ReadAll()
}

// Result is a fully buffered query result.
type Result struct {
	columns []Column
	rows    [][]any
	tag     CommandTag
}

// Columns returns the result's column metadata.
func (r *Result) Columns() []Column {
	return r.columns
}

// Len reports the number of rows.
func (r *Result) Len() int {
	return len(r.rows)
}

// Row returns row i in column order.
func (r *Result) Row(i int) []any {
	return r.rows[i]
}

// Rows returns all rows in order.
func (r *Result) Rows() [][]any {
	return r.rows
}

// CommandTag returns the completion tag.
func (r *Result) CommandTag() CommandTag {
	return r.tag
}

// MapRows projects every row onto a name-keyed map. Column names must be
// unique for the projection to be well defined.
func MapRows(res *Result) ([]map[string]any, error) {
	seen := make(map[string]struct{}, len(res.columns))
	for _, col := range res.columns {
		if _, dup := seen[col.Name]; dup {
			return nil, errs.Newf(errs.KindContract, "duplicate column name %q in result", col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	out := make([]map[string]any, 0, len(res.rows))
	for _, row := range res.rows {
		m := make(map[string]any, len(res.columns))
		for i, col := range res.columns {
			m[col.Name] = row[i]
		}
		out = append(out, m)
	}
	return out, nil
}

// Scalar extracts the single value of a one-row, one-column result.
func Scalar(res *Result) (any, error) {
	if len(res.rows) != 1 {
		return nil, errs.Newf(errs.KindContract, "expected exactly one row, got %d", len(res.rows))
	}
	if len(res.columns) != 1 {
		return nil, errs.Newf(errs.KindContract, "expected exactly one column, got %d", len(res.columns))
	}
	return res.rows[0][0], nil
}
