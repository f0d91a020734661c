// Package transport defines the byte stream abstractions that rpc/client and
// rpc/server speak frames over.
package transport

import (
	"io"
	"net"

	"github.com/gostdlib/base/context"
)

// Transport is a bidirectional byte stream to one peer.
type Transport interface {
	io.ReadWriteCloser

	// LocalAddr returns the local network address, if known.
	LocalAddr() net.Addr
	// RemoteAddr returns the remote network address, if known.
	RemoteAddr() net.Addr
}

// Dialer creates new transport connections to a remote endpoint.
type Dialer interface {
	// Dial establishes a new transport connection.
	Dial(ctx context.Context) (Transport, error)
}

// DialFunc opens a Transport to addr. The address format is defined by the
// scheme the DialFunc is registered under in rpc/client.
type DialFunc func(ctx context.Context, addr string) (Transport, error)

// Listener accepts incoming transport connections.
type Listener interface {
	// Accept waits for and returns the next incoming connection.
	Accept(ctx context.Context) (Transport, error)
	// Close stops the listener. Already accepted connections are not affected.
	Close() error
	// Addr returns the listener's network address.
	Addr() net.Addr
}

// NetConn wraps a net.Conn, as returned by net.Pipe, so it can be used as a Transport.
func NetConn(conn net.Conn) Transport {
	return conn
}
