// Package wsconn implements the per-connection protocol engine: the state
// machine that drives one socket from an HTTP Upgrade handshake through
// RFC 6455 framing to an orderly close.
//
// An Engine never performs I/O on its own initiative. It is driven
// entirely by its owner (a reactor) calling OnReadable/OnWritable when the
// underlying Socket reports readiness, and Queue when the host wants to
// send something. This keeps the engine testable without a real socket:
// see conn_test.go, which drives engines with an in-memory Socket.
package wsconn
