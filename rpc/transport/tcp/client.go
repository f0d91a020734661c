// Package tcp provides TCP transports for mbus connections.
package tcp

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/transport"
)

// Common errors.
var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("not connected")
)

// ClientTransport is a buffered TCP connection to one address. A transport that
// lost its connection stays unusable; callers dial a new one.
type ClientTransport struct {
	addr   string
	config *config

	// bufio types are not safe for concurrent use.
	readMu sync.Mutex
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer

	connMu    sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string, opts ...Option) (*ClientTransport, error) {
	cfg := defaultConfig().apply(opts)

	t := &ClientTransport{
		addr:   addr,
		config: cfg,
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// DialFunc returns a transport.DialFunc that dials with opts.
func DialFunc(opts ...Option) transport.DialFunc {
	return func(ctx context.Context, addr string) (transport.Transport, error) {
		return Dial(ctx, addr, opts...)
	}
}

func (t *ClientTransport) connect(ctx context.Context) error {
	t.connMu.Lock()
	if t.closed {
		t.connMu.Unlock()
		return ErrClosed
	}
	t.dropLocked()
	t.connMu.Unlock()

	dialer := &net.Dialer{
		Timeout:   t.config.dialTimeout,
		KeepAlive: t.config.keepAlive,
	}

	var (
		conn net.Conn
		err  error
	)
	if t.config.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: t.config.tlsConfig}
		conn, err = td.DialContext(ctx, t.config.network, t.addr)
	} else {
		conn, err = dialer.DialContext(ctx, t.config.network, t.addr)
	}
	if err != nil {
		return err
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.closed {
		conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.connected = true

	t.readMu.Lock()
	t.reader = bufio.NewReaderSize(conn, t.config.bufferSize)
	t.readMu.Unlock()

	t.writeMu.Lock()
	t.writer = bufio.NewWriterSize(conn, t.config.bufferSize)
	t.writeMu.Unlock()

	return nil
}

// dropLocked closes the current connection. Must hold t.connMu.
func (t *ClientTransport) dropLocked() {
	t.connected = false
	if t.conn == nil {
		return
	}
	t.writeMu.Lock()
	if t.writer != nil {
		t.writer.Flush()
		t.writer = nil
	}
	t.writeMu.Unlock()

	t.conn.Close()
	t.conn = nil
}

func (t *ClientTransport) state() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	switch {
	case t.closed:
		return ErrClosed
	case !t.connected:
		return ErrNotConnected
	}
	return nil
}

// Read implements io.Reader. It is safe to call concurrently with Write.
func (t *ClientTransport) Read(p []byte) (int, error) {
	if err := t.state(); err != nil {
		return 0, err
	}

	t.readMu.Lock()
	reader := t.reader
	t.readMu.Unlock()
	if reader == nil {
		return 0, ErrNotConnected
	}
	return reader.Read(p)
}

// Write implements io.Writer. Every call is flushed, frames are written with one call.
func (t *ClientTransport) Write(p []byte) (int, error) {
	if err := t.state(); err != nil {
		return 0, err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writer == nil {
		return 0, ErrNotConnected
	}
	n, err := t.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, t.writer.Flush()
}

// Close closes the transport. Later calls are no-ops.
func (t *ClientTransport) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.dropLocked()
	return nil
}

// LocalAddr implements transport.Transport.
func (t *ClientTransport) LocalAddr() net.Addr {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return t.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr implements transport.Transport.
func (t *ClientTransport) RemoteAddr() net.Addr {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return t.conn.RemoteAddr()
	}
	return nil
}

// Connected reports if the transport currently has a connection.
func (t *ClientTransport) Connected() bool {
	return t.state() == nil
}

var _ transport.Transport = (*ClientTransport)(nil)
