package tcp

import (
	"bufio"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/server"
	"github.com/bearlytools/mbus/rpc/transport"
)

// Listener accepts TCP connections and wraps them in buffered transports.
type Listener struct {
	listener net.Listener
	config   *config

	mu     sync.Mutex
	closed bool
}

// Listen listens on addr ("host:port" or ":port").
func Listen(ctx context.Context, addr string, opts ...Option) (*Listener, error) {
	cfg := defaultConfig().apply(opts)

	lc := net.ListenConfig{KeepAlive: cfg.keepAlive}
	l, err := lc.Listen(ctx, cfg.network, addr)
	if err != nil {
		return nil, err
	}
	if cfg.tlsConfig != nil {
		l = tls.NewListener(l, cfg.tlsConfig)
	}
	return &Listener{listener: l, config: cfg}, nil
}

// Accept waits for the next connection or for ctx to be done.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		// The pending Accept returns once the listener is closed.
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return newServerTransport(r.conn, l.config), nil
	}
}

// Close closes the listener.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

var _ transport.Listener = (*Listener)(nil)

// serverTransport is an accepted connection with buffered writes.
type serverTransport struct {
	net.Conn

	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer
}

func newServerTransport(conn net.Conn, cfg *config) *serverTransport {
	return &serverTransport{
		Conn:   conn,
		reader: bufio.NewReaderSize(conn, cfg.bufferSize),
		writer: bufio.NewWriterSize(conn, cfg.bufferSize),
	}
}

// Read is only called from the server's read loop.
func (t *serverTransport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *serverTransport) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, t.writer.Flush()
}

// Server accepts TCP connections and serves each with an rpc/server.Server.
type Server struct {
	rpc  *server.Server
	addr string
	opts []Option
	log  *slog.Logger

	mu       sync.Mutex
	listener *Listener
	closed   bool
}

// NewServer returns a Server for rpc on addr. It does not listen until
// ListenAndServe is called.
func NewServer(rpc *server.Server, addr string, opts ...Option) *Server {
	return &Server{rpc: rpc, addr: addr, opts: opts, log: slog.Default()}
}

// ListenAndServe listens on the configured address and serves connections until
// ctx is done or Close or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := Listen(ctx, s.addr, s.opts...)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves connections accepted on l. Each connection is handled on a
// goroutine from context.Pool(ctx). l is closed when Serve returns.
func (s *Server) Serve(ctx context.Context, l *Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer l.Close()

	pool := context.Pool(ctx)
	for {
		t, err := l.Accept(ctx)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		pool.Submit(ctx, func() {
			if err := s.rpc.Serve(ctx, t); err != nil {
				s.log.Warn("connection ended with error", "remote", t.RemoteAddr(), "err", err)
			}
		})
	}
}

// Addr returns the address being listened on, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and shuts the rpc server down gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	return s.rpc.Shutdown(ctx)
}

// Close stops accepting connections and closes all open ones.
func (s *Server) Close() error {
	s.stop()
	return s.rpc.Close()
}

func (s *Server) stop() {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.Close()
	}
}
