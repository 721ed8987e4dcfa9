// Package transport provides the two I/O transports parley speaks over:
// the process's inherited stdin/stdout streams, and a per-session named
// pipe (unix domain socket) created by the server and announced to the
// client on a side channel. An in-memory paired transport is included for
// tests.
package transport

import "io"

// Transport provides a bidirectional byte stream for JSON-RPC communication.
// Framing lives above this interface; a Transport only moves bytes.
type Transport interface {
	io.ReadWriteCloser
}
