// Package server provides the serving side of the mbus RPC protocol. Methods are
// registered by name and every request on a connection is answered by the
// handler registered for its method.
package server

import (
	"errors"
	"log/slog"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/compress"
	"github.com/bearlytools/mbus/rpc/interceptor"
	"github.com/bearlytools/mbus/rpc/transport"
)

// Common errors.
var (
	ErrClosed             = errors.New("server closed")
	ErrTooManyConnections = errors.New("too many connections")
)

// Option configures a Server.
type Option func(*Server)

// WithCompression sets the compression used for reply bodies. Defaults to compress.None.
func WithCompression(c compress.Compression) Option {
	return func(s *Server) {
		s.compression = c
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
// New connections are rejected with ErrTooManyConnections when at limit.
// Default is 0 (no limit).
func WithMaxConnections(max int) Option {
	return func(s *Server) {
		s.maxConnections = max
	}
}

// WithMaxConcurrentRPCs sets the maximum number of handlers running at the same
// time on one connection. Default is 0 (no limit, uses the context's pool directly).
func WithMaxConcurrentRPCs(max int) Option {
	return func(s *Server) {
		s.maxConcurrentRPCs = max
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithInterceptors sets interceptors that wrap every handler, outermost first.
func WithInterceptors(interceptors ...interceptor.ServerInterceptor) Option {
	return func(s *Server) {
		s.interceptor = interceptor.ChainServer(interceptors...)
	}
}

// Server handles RPC connections and dispatches requests to registered handlers.
type Server struct {
	registry    *Registry
	log         *slog.Logger
	interceptor interceptor.ServerInterceptor

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool

	compression       compress.Compression
	maxConnections    int
	maxConcurrentRPCs int
}

// New creates a new RPC server.
func New(opts ...Option) *Server {
	s := &Server{
		registry: NewRegistry(),
		log:      slog.Default(),
		conns:    make(map[*serverConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers h as the handler for method. Registering a method twice
// returns an error wrapping ErrHandlerExists.
func (s *Server) Register(method string, h HandlerFunc) error {
	return s.registry.Register(method, h)
}

// Registry returns the server's handler registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve answers requests on t until the peer disconnects, ctx is done or the
// server is shut down. Handlers run on goroutines from context.Pool(ctx). t is
// closed when Serve returns.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.Close()
		return ErrClosed
	}
	if s.maxConnections > 0 && len(s.conns) >= s.maxConnections {
		s.mu.Unlock()
		t.Close()
		return ErrTooManyConnections
	}
	conn := newServerConn(ctx, s, t)
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	err := conn.serve(ctx)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	return err
}

// Shutdown stops accepting connections and waits for in-flight handlers on all
// connections before closing them. If ctx is done first, the remaining
// connections are closed immediately and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.gracefulClose(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all connections without waiting for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return nil
}
