package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdsync "sync"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/concurrency/worker"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/interceptor"
	"github.com/bearlytools/mbus/rpc/transport"
)

// serverConn handles a single client connection.
type serverConn struct {
	server *Server
	t      transport.Transport
	log    *slog.Logger
	pool   *worker.Pool

	writeMu sync.Mutex
	w       *frame.Writer

	closeOnce stdsync.Once
	closed    chan struct{}

	// active tracks in-flight handlers.
	active stdsync.WaitGroup
}

func newServerConn(ctx context.Context, s *Server, t transport.Transport) *serverConn {
	c := &serverConn{
		server: s,
		t:      t,
		log:    s.log,
		pool:   context.Pool(ctx),
		w:      frame.NewWriter(t, frame.WithCompression(s.compression, 0)),
		closed: make(chan struct{}),
	}
	if addr := t.RemoteAddr(); addr != nil {
		c.log = c.log.With("remote", addr.String())
	}
	if s.maxConcurrentRPCs > 0 {
		c.pool = c.pool.Limited(ctx, "mbus-rpc-handlers", s.maxConcurrentRPCs)
	}
	return c
}

// serve runs the read loop for this connection. A clean disconnect returns nil.
func (c *serverConn) serve(ctx context.Context) error {
	defer c.close()

	// Unblock the read loop when ctx ends.
	context.Pool(ctx).Submit(ctx, func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.closed:
		}
	})

	for {
		f, err := frame.Read(c.t)
		if err != nil {
			if c.isClosed() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		if f.Kind != frame.KindRequest {
			c.log.Warn("ignoring unexpected frame", "kind", f.Kind, "id", f.ID)
			continue
		}

		c.active.Add(1)
		c.pool.Submit(ctx, func() {
			defer c.active.Done()
			c.handle(ctx, f)
		})
	}
}

func (c *serverConn) handle(ctx context.Context, f frame.Frame) {
	req, err := frame.UnmarshalRequest(f.Body)
	if err != nil {
		c.reply(f.ID, frame.Reply{Code: frame.CodeBadRequest, Message: err.Error()})
		return
	}

	h, ok := c.server.registry.Lookup(req.Method)
	if !ok {
		c.reply(f.ID, frame.Reply{Code: frame.CodeNoSuchMethod, Message: fmt.Sprintf("no such method %q", req.Method)})
		return
	}

	vals, err := c.call(ctx, h, req)
	if err != nil {
		code := frame.CodeGeneral
		var se *Error
		if errors.As(err, &se) {
			code = se.Code
		}
		c.log.Warn("handler failed", "method", req.Method, "code", code, "err", err)
		c.reply(f.ID, frame.Reply{Code: code, Message: err.Error()})
		return
	}
	c.reply(f.ID, frame.Reply{Values: vals})
}

// call runs h and turns a panic into an error so one bad handler cannot take the
// connection down.
func (c *serverConn) call(ctx context.Context, h HandlerFunc, req frame.Request) (vals frame.Values, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %q panicked: %v", req.Method, r)
		}
	}()
	if c.server.interceptor == nil {
		return h(ctx, req.Params)
	}
	info := &interceptor.ServerInfo{Method: req.Method, Remote: c.t.RemoteAddr()}
	return c.server.interceptor(ctx, req.Params, info, interceptor.Handler(h))
}

func (c *serverConn) reply(id uint32, r frame.Reply) {
	body, err := r.Marshal()
	if err != nil {
		c.log.Warn("could not marshal reply", "id", id, "err", err)
		body, _ = frame.Reply{Code: frame.CodeWrongReturn, Message: err.Error()}.Marshal()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return
	}
	if err := c.w.Write(frame.Frame{Kind: frame.KindReply, ID: id, Body: body}); err != nil {
		c.log.Warn("could not write reply, closing connection", "id", id, "err", err)
		c.close()
	}
}

func (c *serverConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// close closes the connection immediately without waiting for handlers.
func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.t.Close()
	})
}

// gracefulClose waits for in-flight handlers, then closes the connection. If ctx
// ends first the connection is closed anyway and ctx.Err() is returned.
func (c *serverConn) gracefulClose(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.close()
		return nil
	case <-ctx.Done():
		c.close()
		return ctx.Err()
	}
}
