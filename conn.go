package pgwire

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/koustreak/pgwire/errs"
	"github.com/koustreak/pgwire/internal/pipe"
	"github.com/koustreak/pgwire/logger"
	"github.com/koustreak/pgwire/pgtype"
	"github.com/koustreak/pgwire/wire"
)

// Connection is a single authenticated session speaking the v3 protocol
// over one duplex byte stream. Queries are serialised through a FIFO
// lock token; a dedicated dispatcher goroutine routes asynchronous
// server traffic (parameter status, notices, notifications) and hands
// everything else to the active query through a single-slot channel.
//
// A Connection is safe for concurrent use: callers queue behind the
// lock in submission order.
type Connection struct {
	opts   *Options
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer

	pid       int32
	secretKey int32

	paramsMu     sync.RWMutex
	serverParams map[string]string

	types   *pgtype.Registry
	stmtSeq atomic.Uint64

	listenMu sync.Mutex
	channels map[string]*channelState

	// syncMsgs is the single-slot synchronous channel: the dispatcher
	// awaits each write's consumption, so at most one message is ever
	// in flight and a slow query exerts backpressure on the socket.
	syncMsgs *pipe.Pipe[wire.BackendMessage]

	// lock is the turn queue. It holds at most one token; a query owns
	// the connection from taking the token until it has consumed a
	// ReadyForQuery and put the token back.
	lock *pipe.Pipe[lockToken]

	done      *pipe.Deferred[struct{}]
	closed    chan struct{}
	closeOnce sync.Once

	log *logger.Logger
}

type lockToken struct{}

// Connect establishes, authenticates, and prepares a session: transport
// dial, optional TLS upgrade, startup/auth exchange, and a load of the
// type catalogue from pg_type.
func Connect(ctx context.Context, opts *Options) (*Connection, error) {
	if opts == nil {
		return nil, errs.New(errs.KindContract, "nil options")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	netConn, err := dial(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.SSLMode == SSLModeVerifyFull {
		netConn, err = negotiateTLS(ctx, netConn, opts)
		if err != nil {
			netConn.Close()
			return nil, err
		}
	}

	c := &Connection{
		opts:         opts,
		conn:         netConn,
		reader:       wire.NewReader(netConn),
		writer:       wire.NewWriter(netConn),
		serverParams: make(map[string]string),
		types:        pgtype.NewRegistry(),
		channels:     make(map[string]*channelState),
		syncMsgs:     pipe.NewPipe[wire.BackendMessage](),
		lock:         pipe.NewPipe[lockToken](),
		done:         pipe.NewDeferred[struct{}](),
		closed:       make(chan struct{}),
	}
	c.log = opts.Logger.With().Str("addr", netConn.RemoteAddr().String()).Logger()

	go c.dispatchLoop()

	if err := c.startup(ctx); err != nil {
		// A FATAL auth response reaches the done latch first; report it
		// rather than the secondary lifecycle rejection.
		if _, derr := c.done.Result(); derr != nil {
			err = derr
		}
		c.terminate(err)
		return nil, err
	}
	c.log.With().Int32("pid", c.pid).Logger().Debug("connected")
	return c, nil
}

func dial(ctx context.Context, o *Options) (net.Conn, error) {
	d := net.Dialer{Timeout: o.DialTimeout}
	network, addr := "tcp", net.JoinHostPort(o.Host, strconv.Itoa(int(o.Port)))
	if strings.HasPrefix(o.Host, "/") {
		network = "unix"
		addr = filepath.Join(o.Host, fmt.Sprintf(".s.PGSQL.%d", o.Port))
	}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnectionFailed, fmt.Sprintf("dialing %s", addr), err)
	}
	return conn, nil
}

// negotiateTLS performs the SSLRequest sentinel exchange and upgrades
// the stream in place on an 'S' reply.
func negotiateTLS(ctx context.Context, conn net.Conn, o *Options) (net.Conn, error) {
	w := wire.NewWriter(conn)
	w.SSLRequest()
	if err := w.Flush(); err != nil {
		return nil, errs.Wrap(errs.KindConnectionFailed, "sending SSLRequest", err)
	}
	var reply [1]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return nil, errs.Wrap(errs.KindConnectionFailed, "reading SSL negotiation response", err)
	}
	switch reply[0] {
	case 'S':
	case 'N':
		return nil, errs.New(errs.KindConnectionFailed, "Server does not allow SSL connections")
	default:
		return nil, errs.Newf(errs.KindProtocol, "unexpected SSL negotiation response %q", reply[0])
	}

	cfg, err := o.tlsConfig()
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errs.Wrap(errs.KindConnectionFailed, "TLS handshake", err)
	}
	return tlsConn, nil
}

// startup drives the post-transport half of Connect: StartupMessage,
// authentication, BackendKeyData, the first ReadyForQuery (which seeds
// the lock queue), server parameter assertions, and the type load.
func (c *Connection) startup(ctx context.Context) error {
	params := map[string]string{
		"user":     c.opts.User,
		"database": c.opts.Database,
	}
	for k, v := range c.opts.Params {
		if v != "" {
			params[k] = v
		}
	}
	c.writer.Startup(params)
	if err := c.flush(); err != nil {
		return err
	}

	if err := c.authenticate(ctx); err != nil {
		return err
	}

	for {
		msg, err := c.receiveSync(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *wire.BackendKeyData:
			c.pid, c.secretKey = m.PID, m.SecretKey
		case *wire.ReadyForQuery:
			c.releaseLock()
			if err := c.assertServerParams(); err != nil {
				return err
			}
			return c.ReloadTypes(ctx)
		case *wire.ErrorResponse:
			return pgErrorFromWire(&m.ErrorDetails)
		default:
			return c.protocolErr("unexpected %s during startup", wire.Name(msg))
		}
	}
}

func (c *Connection) authenticate(ctx context.Context) error {
	for {
		msg, err := c.receiveSync(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *wire.AuthenticationOk:
			return nil
		case *wire.AuthenticationCleartextPassword:
			if c.opts.Password == "" {
				return errs.New(errs.KindAuth, "server requested a password, but none is configured")
			}
			c.writer.Password(c.opts.Password)
			if err := c.flush(); err != nil {
				return err
			}
		case *wire.AuthenticationMD5Password:
			if c.opts.Password == "" {
				return errs.New(errs.KindAuth, "server requested a password, but none is configured")
			}
			c.writer.Password(md5Password(c.opts.User, c.opts.Password, m.Salt))
			if err := c.flush(); err != nil {
				return err
			}
		case *wire.ErrorResponse:
			return pgErrorFromWire(&m.ErrorDetails)
		default:
			return c.protocolErr("unexpected %s during authentication", wire.Name(msg))
		}
	}
}

// md5Password computes "md5" + hex(md5(hex(md5(password||username)) || salt)).
func md5Password(user, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	outer := md5.New()
	outer.Write([]byte(hex.EncodeToString(inner[:])))
	outer.Write(salt[:])
	return "md5" + hex.EncodeToString(outer.Sum(nil))
}

// assertServerParams checks the two server settings the binary codecs
// depend on.
func (c *Connection) assertServerParams() error {
	if v := c.ServerParam("integer_datetimes"); v != "on" {
		return errs.Newf(errs.KindProtocol, "server integer_datetimes is %q; only integer timestamps are supported", v)
	}
	if v := c.ServerParam("client_encoding"); v != "UTF8" {
		return errs.Newf(errs.KindProtocol, "server client_encoding is %q; only UTF8 is supported", v)
	}
	return nil
}

// dispatchLoop is the single long-running read task. Asynchronous
// messages are handled here; everything else goes to the active query
// through the single-slot channel, blocking this loop until consumed.
func (c *Connection) dispatchLoop() {
	for {
		msg, err := c.reader.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errs.New(errs.KindLifecycle, "server closed the connection")
			}
			c.terminate(err)
			return
		}
		if c.opts.Debug {
			c.log.Trace("recv", wire.Name(msg))
		}

		switch m := msg.(type) {
		case *wire.ParameterStatus:
			c.paramsMu.Lock()
			c.serverParams[m.Name] = m.Value
			c.paramsMu.Unlock()
		case *wire.NoticeResponse:
			c.handleNotice(noticeFromWire(&m.ErrorDetails))
		case *wire.NotificationResponse:
			c.handleNotification(Notification{PID: m.PID, Channel: m.Channel, Payload: m.Payload})
		case *wire.ErrorResponse:
			if m.IsFatal() {
				c.terminate(pgErrorFromWire(&m.ErrorDetails))
				continue
			}
			if !c.forwardSync(msg) {
				return
			}
		default:
			if !c.forwardSync(msg) {
				return
			}
		}
	}
}

// forwardSync pushes a message into the synchronous slot and waits for
// the active query to take it. Returns false once the connection closes.
func (c *Connection) forwardSync(msg wire.BackendMessage) bool {
	consumed := c.syncMsgs.Write(msg)
	select {
	case <-consumed:
		return true
	case <-c.closed:
		return false
	}
}

// receiveSync reads the next synchronous message for the active query.
// A cancelled context leaves the stream mid-conversation with no way to
// resynchronise, so the connection is closed rather than left corrupt.
func (c *Connection) receiveSync(ctx context.Context) (wire.BackendMessage, error) {
	msg, err := c.syncMsgs.Read(ctx, c.closed)
	if err != nil {
		if errors.Is(err, pipe.ErrAborted) {
			return nil, ErrConnClosed
		}
		c.terminate(errs.Wrap(errs.KindLifecycle, "query cancelled mid-protocol", err))
		return nil, err
	}
	return msg, nil
}

// acquireLock waits for the connection's turn token in FIFO order.
func (c *Connection) acquireLock(ctx context.Context) error {
	_, err := c.lock.Read(ctx, c.closed)
	if err != nil {
		if errors.Is(err, pipe.ErrAborted) {
			return ErrConnClosed
		}
		return err
	}
	return nil
}

// releaseLock returns the turn token. Callers may only release
// immediately after consuming a ReadyForQuery, when the session is back
// in its clean state.
func (c *Connection) releaseLock() {
	c.lock.Write(lockToken{})
}

// flush sends buffered frontend messages. Write failures on a closed
// transport surface as the lifecycle error; anything else terminates
// the connection.
func (c *Connection) flush() error {
	if err := c.writer.Flush(); err != nil {
		select {
		case <-c.closed:
			return ErrConnClosed
		default:
		}
		c.terminate(errs.Wrap(errs.KindConnectionFailed, "write failed", err))
		return ErrConnClosed
	}
	return nil
}

// protocolErr records a framing/state violation. These are fatal: the
// stream can no longer be trusted.
func (c *Connection) protocolErr(format string, args ...any) error {
	err := errs.Newf(errs.KindProtocol, format, args...)
	c.terminate(err)
	return err
}

// drainToReady consumes synchronous messages up to and including the
// next ReadyForQuery, returning the session to its clean state.
func (c *Connection) drainToReady(ctx context.Context) error {
	for {
		msg, err := c.receiveSync(ctx)
		if err != nil {
			return err
		}
		if _, ok := msg.(*wire.ReadyForQuery); ok {
			return nil
		}
	}
}

// failQuery recovers from a server error raised mid-pipeline and
// returns the error the caller should propagate. When no Sync has been
// sent yet the server is still waiting for one before it will emit
// ReadyForQuery.
func (c *Connection) failQuery(ctx context.Context, pgErr error, syncSent bool) error {
	if !syncSent {
		c.writer.Sync()
		if err := c.flush(); err != nil {
			return pgErr
		}
	}
	if err := c.drainToReady(ctx); err != nil {
		return err
	}
	c.releaseLock()
	return pgErr
}

// expectReady consumes exactly one ReadyForQuery.
func (c *Connection) expectReady(ctx context.Context) error {
	msg, err := c.receiveSync(ctx)
	if err != nil {
		return err
	}
	if _, ok := msg.(*wire.ReadyForQuery); !ok {
		return c.protocolErr("expected ReadyForQuery, got %s", wire.Name(msg))
	}
	return nil
}

// handleNotice runs in the dispatcher; a slow handler slows all message
// processing, which is the documented backpressure contract.
func (c *Connection) handleNotice(n *Notice) {
	if c.opts.NoticeHandler != nil {
		c.opts.NoticeHandler(n)
		return
	}
	if n.Severity == "WARNING" {
		c.log.Warnf("%s: %s", n.Severity, n.Message)
		return
	}
	c.log.Infof("%s: %s", n.Severity, n.Message)
}

// terminate settles the done latch, rejects everything pending on the
// synchronous channel and the lock queue, and closes the transport.
// Exactly-once; later calls are no-ops.
func (c *Connection) terminate(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			c.done.Resolve(struct{}{})
		} else {
			c.log.With().Err(err).Logger().Debug("connection terminated")
			c.done.Reject(err)
		}
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Close gracefully shuts the session down: a best-effort Terminate
// message, then transport close. Safe to call multiple times and
// concurrently with in-flight queries, which reject with ErrConnClosed.
func (c *Connection) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	// Send Terminate only when the session is idle: taking the turn
	// token (never returned) also keeps the writer single-owner. When a
	// query is mid-flight the transport close below is enough.
	if _, idle := c.lock.TryRead(); idle {
		c.writer.Terminate()
		_ = c.writer.Flush()
	}
	c.terminate(nil)
	return nil
}

// Done is closed when the session terminates, whether by Close, a FATAL
// server response, or a transport failure.
func (c *Connection) Done() <-chan struct{} {
	return c.done.Done()
}

// Err reports why the session terminated: nil while alive and after a
// graceful Close, the fatal PgError or transport error otherwise.
func (c *Connection) Err() error {
	_, err := c.done.Result()
	return err
}

// PID returns the server-assigned backend process id.
func (c *Connection) PID() int32 {
	return c.pid
}

// SecretKey returns the backend's cancellation key.
func (c *Connection) SecretKey() int32 {
	return c.secretKey
}

// ServerParam returns the most recent value the server reported for a
// runtime parameter (server_version, TimeZone, …).
func (c *Connection) ServerParam(name string) string {
	c.paramsMu.RLock()
	defer c.paramsMu.RUnlock()
	return c.serverParams[name]
}

// ServerParams returns a copy of all reported server parameters.
func (c *Connection) ServerParams() map[string]string {
	c.paramsMu.RLock()
	defer c.paramsMu.RUnlock()
	out := make(map[string]string, len(c.serverParams))
	for k, v := range c.serverParams {
		out[k] = v
	}
	return out
}

// TypeRegistry exposes the connection's type catalogue.
func (c *Connection) TypeRegistry() *pgtype.Registry {
	return c.types
}

// ReloadTypes refreshes the type catalogue from pg_type. Connect calls
// it once; call it again after creating types the session needs to
// encode or decode (enums, domains, composites).
func (c *Connection) ReloadTypes(ctx context.Context) error {
	res, err := c.Query(ctx, pgtype.LoaderQuery)
	if err != nil {
		return err
	}
	rows := make([]pgtype.TypeRow, 0, res.Len())
	for _, row := range res.Rows() {
		oid, _ := row[0].(int32)
		name, _ := row[1].(string)
		kindStr, _ := row[2].(string)
		elem, _ := row[3].(int32)
		recv, _ := row[4].(string)
		send, _ := row[5].(string)
		var kind byte
		if len(kindStr) > 0 {
			kind = kindStr[0]
		}
		var attrs []uint32
		if arr, ok := row[6].([]any); ok {
			for _, a := range arr {
				if n, ok := a.(int32); ok {
					attrs = append(attrs, uint32(n))
				}
			}
		}
		rows = append(rows, pgtype.TypeRow{
			OID:      uint32(oid),
			Name:     name,
			Kind:     kind,
			ElemOID:  uint32(elem),
			AttrOIDs: attrs,
			RecvName: recv,
			SendName: send,
		})
	}
	c.types.Replace(rows)
	return nil
}

// exec runs a statement and discards its result. Used for LISTEN and
// UNLISTEN round-trips.
func (c *Connection) exec(ctx context.Context, sql string) error {
	_, err := c.Query(ctx, sql)
	return err
}
