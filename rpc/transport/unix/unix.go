// Package unix provides the mbus transport over Unix domain sockets. It is the
// tcp transport with the "unix" network, so every tcp.Option applies.
//
// Example:
//
//	srv := unix.NewServer(rpc, "/var/run/mbus.sock")
//	go srv.ListenAndServe(ctx)
//
//	sup, err := client.New(ctx) // "unix/<path>" specs dial through this package
package unix

import (
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/server"
	"github.com/bearlytools/mbus/rpc/transport"
	"github.com/bearlytools/mbus/rpc/transport/tcp"
)

const network = "unix"

func withUnix(opts []tcp.Option) []tcp.Option {
	return append(opts[:len(opts):len(opts)], tcp.WithNetwork(network))
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string, opts ...tcp.Option) (*tcp.ClientTransport, error) {
	return tcp.Dial(ctx, path, withUnix(opts)...)
}

// DialFunc returns a transport.DialFunc that dials socket paths with opts.
func DialFunc(opts ...tcp.Option) transport.DialFunc {
	return tcp.DialFunc(withUnix(opts)...)
}

// Listen listens on the socket at path. The socket file must not exist.
func Listen(ctx context.Context, path string, opts ...tcp.Option) (*tcp.Listener, error) {
	return tcp.Listen(ctx, path, withUnix(opts)...)
}

// NewServer returns a tcp.Server for rpc that listens on the socket at path.
func NewServer(rpc *server.Server, path string, opts ...tcp.Option) *tcp.Server {
	return tcp.NewServer(rpc, path, withUnix(opts)...)
}
