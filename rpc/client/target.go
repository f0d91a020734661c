package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/telemetry/otel/trace/span"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/transport"
)

var errInvalid = errors.New("target is no longer valid")

// call is one request in flight on a Target.
type call struct {
	ctx   context.Context
	req   *Request
	w     RequestWaiter
	timer *time.Timer
	span  span.Span
	start time.Time
}

// Target is a connection to one endpoint, shared by everyone asking the
// Supervisor for the same spec. The connection is dialed on first use. Once it
// fails the Target stays invalid and the Supervisor hands out a new one.
type Target struct {
	// ctx is never canceled, it carries the pool the connection's goroutines run on.
	ctx  context.Context
	sup  *Supervisor
	spec string
	addr string
	dial transport.DialFunc
	log  *slog.Logger
	refs atomic.Int32

	// connectMu makes sure only one dial runs at a time.
	connectMu sync.Mutex

	mu      sync.Mutex
	conn    transport.Transport
	w       *frame.Writer
	pending map[uint32]*call
	nextID  uint32
	invalid bool

	// writeMu serializes frames on conn.
	writeMu sync.Mutex
}

func newTarget(ctx context.Context, s *Supervisor, spec, addr string, dial transport.DialFunc) *Target {
	t := &Target{
		ctx:     context.WithoutCancel(ctx),
		sup:     s,
		spec:    spec,
		addr:    addr,
		dial:    dial,
		log:     s.log.With("spec", spec),
		pending: map[uint32]*call{},
	}
	t.refs.Store(1)
	return t
}

// Spec returns the connection spec the target was created for.
func (t *Target) Spec() string {
	return t.spec
}

// IsValid reports if the target can still carry requests. A target that has not
// connected yet is valid.
func (t *Target) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.invalid
}

// AddRef adds a reference.
func (t *Target) AddRef() {
	t.refs.Add(1)
}

// tryAddRef adds a reference unless the last one is already gone.
func (t *Target) tryAddRef() bool {
	for {
		n := t.refs.Load()
		if n <= 0 {
			return false
		}
		if t.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// SubRef drops a reference. Dropping the last one closes the connection and
// finishes outstanding requests with ErrAbort.
func (t *Target) SubRef() {
	switch n := t.refs.Add(-1); {
	case n == 0:
		t.sup.forget(t)
		t.shutdown(ErrAbort, "target released")
	case n < 0:
		panic(fmt.Sprintf("client.Target(%s): SubRef called more often than AddRef", t.spec))
	}
}

// InvokeAsync sends req and returns without waiting. w.RequestDone(req) is
// called exactly once: with the reply, or with req marked ErrTimeout if no reply
// came within timeout, or ErrConnection if the connection failed. A timeout <= 0
// means no timeout. RequestDone may run on the calling goroutine.
func (t *Target) InvokeAsync(ctx context.Context, req *Request, timeout time.Duration, w RequestWaiter) {
	ctx, sp := span.New(ctx,
		span.WithName(req.MethodName()),
		span.WithSpanStartOption(trace.WithSpanKind(trace.SpanKindClient)),
	)
	sp.Span.SetAttributes(
		attribute.String("rpc.system", "mbus"),
		attribute.String("rpc.method", req.MethodName()),
		attribute.String("mbus.target", t.spec),
	)
	c := &call{ctx: ctx, req: req, w: w, span: sp, start: time.Now()}

	// Encode now, req belongs to the waiter as soon as the call can complete.
	body, err := frame.Request{Method: req.method, Params: req.params}.Marshal()
	if err != nil {
		req.SetError(ErrGeneral, err.Error())
		t.finish(c)
		return
	}

	t.mu.Lock()
	if t.invalid {
		t.mu.Unlock()
		req.SetError(ErrConnection, errInvalid.Error())
		t.finish(c)
		return
	}
	t.nextID++
	id := t.nextID
	t.pending[id] = c
	if timeout > 0 {
		c.timer = time.AfterFunc(timeout, func() {
			t.fail(id, ErrTimeout, fmt.Sprintf("no reply within %s", timeout))
		})
	}
	t.mu.Unlock()

	// Not canceled with ctx: once registered, the call must reach a completion.
	context.Pool(ctx).Submit(context.WithoutCancel(ctx), func() { t.send(id, body) })
}

// InvokeSync sends req and waits for it to finish. The caller keeps ownership of req.
func (t *Target) InvokeSync(ctx context.Context, req *Request, timeout time.Duration) {
	done := make(chan struct{})
	t.InvokeAsync(ctx, req, timeout, RequestDoneFunc(func(*Request) { close(done) }))
	<-done
}

func (t *Target) send(id uint32, body []byte) {
	w, err := t.connect()
	if err != nil {
		t.log.Debug("could not connect", "err", err)
		t.shutdown(ErrConnection, err.Error())
		return
	}

	t.writeMu.Lock()
	err = w.Write(frame.Frame{Kind: frame.KindRequest, ID: id, Body: body})
	t.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, frame.ErrTooLarge) {
			t.fail(id, ErrGeneral, err.Error())
			return
		}
		t.shutdown(ErrConnection, fmt.Sprintf("write failed: %s", err))
	}
}

// connect returns the writer of the connection, dialing it if needed.
func (t *Target) connect() (*frame.Writer, error) {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	t.mu.Lock()
	switch {
	case t.invalid:
		t.mu.Unlock()
		return nil, errInvalid
	case t.w != nil:
		w := t.w
		t.mu.Unlock()
		return w, nil
	}
	t.mu.Unlock()

	conn, err := t.dial(t.ctx, t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.spec, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.invalid {
		conn.Close()
		return nil, errInvalid
	}
	t.conn = conn
	t.w = frame.NewWriter(conn, frame.WithCompression(t.sup.compression, 0))
	context.Pool(t.ctx).Submit(t.ctx, func() { t.readLoop(conn) })

	t.log.Debug("connected")
	return t.w, nil
}

func (t *Target) readLoop(conn transport.Transport) {
	for {
		f, err := frame.Read(conn)
		if err != nil {
			t.shutdown(ErrConnection, fmt.Sprintf("read failed: %s", err))
			return
		}
		if f.Kind != frame.KindReply {
			t.log.Warn("ignoring unexpected frame", "kind", f.Kind, "id", f.ID)
			continue
		}

		reply, err := frame.UnmarshalReply(f.Body)
		if err != nil {
			t.fail(f.ID, ErrGeneral, err.Error())
			continue
		}
		c := t.take(f.ID)
		if c == nil {
			// Already timed out.
			continue
		}
		if reply.Code != ErrNone {
			c.req.SetError(reply.Code, reply.Message)
		} else {
			c.req.SetReturn(reply.Values)
		}
		t.finish(c)
	}
}

// take removes the call with id. Whoever takes a call completes it.
func (t *Target) take(id uint32) *call {
	t.mu.Lock()
	c := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()

	if c != nil && c.timer != nil {
		c.timer.Stop()
	}
	return c
}

func (t *Target) fail(id uint32, code ErrorCode, msg string) {
	if c := t.take(id); c != nil {
		c.req.SetError(code, msg)
		t.finish(c)
	}
}

// shutdown makes the target invalid, closes its connection and finishes every
// outstanding call with code.
func (t *Target) shutdown(code ErrorCode, msg string) {
	t.mu.Lock()
	wasValid := !t.invalid
	t.invalid = true
	conn := t.conn
	t.conn = nil
	calls := t.pending
	t.pending = map[uint32]*call{}
	t.mu.Unlock()

	if wasValid {
		t.log.Debug("rpc target invalidated", "code", code, "reason", msg)
	}
	if conn != nil {
		conn.Close()
	}
	for _, c := range calls {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.req.SetError(code, msg)
		t.finish(c)
	}
}

func (t *Target) finish(c *call) {
	req := c.req
	status := "ok"
	if req.IsError() {
		status = req.ErrorCode().String()
		c.span.Span.SetStatus(codes.Error, req.ErrorMessage())
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc_method", req.MethodName()),
		attribute.String("rpc_status", status),
	)
	t.sup.duration.Record(c.ctx, float64(time.Since(c.start).Milliseconds()), attrs)
	t.sup.requests.Add(c.ctx, 1, attrs)
	c.span.End()

	c.w.RequestDone(req)
}
