// Package pgwire is a PostgreSQL client speaking the v3 frontend/backend
// wire protocol directly over TCP, TLS, or a Unix-domain socket.
//
// A Connection multiplexes one duplex stream between sequential queries
// and asynchronous server traffic (parameter status, notices,
// LISTEN/NOTIFY). Queries run through the extended-query pipeline with
// binary parameter and result formats; values are encoded and decoded
// against a type catalogue loaded from pg_type at startup, which covers
// scalars, multi-dimensional arrays, composite records, enums, and
// domains without code generation.
//
//	opts, err := pgwire.ParseDSN("postgres://app:secret@db:5432/orders")
//	if err != nil { ... }
//	conn, err := pgwire.Connect(ctx, opts)
//	if err != nil { ... }
//	defer conn.Close()
//
//	res, err := conn.Query(ctx, "SELECT id, total FROM orders WHERE total > $1", 100.0)
//	for _, row := range res.Rows() {
//		...
//	}
//
// Large results stream row by row through QueryStream; breaking out of
// iteration early is safe, Close drains the remainder and the
// connection stays usable. Statements executed repeatedly should be
// Prepared once and executed with varying parameters.
package pgwire
