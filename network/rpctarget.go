package network

import (
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/gostdlib/base/context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bearlytools/mbus/errors"
	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/version"
)

// Option configures an RPCTarget.
type Option func(*targetOptions)

type targetOptions struct {
	log   *slog.Logger
	meter metric.Meter
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *targetOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMeter sets the meter resolution metrics are recorded with. Defaults to
// context.Meter(ctx).
func WithMeter(m metric.Meter) Option {
	return func(o *targetOptions) {
		o.meter = m
	}
}

// Outcomes of a version request, as recorded in metrics.
const (
	outcomeResolved   = "resolved"
	outcomeFallback   = "fallback"
	outcomeMalformed  = "malformed"
	outcomeUnresolved = "unresolved"
)

// RPCTarget is the connection to one endpoint together with the endpoint's
// version, resolved on demand.
type RPCTarget struct {
	spec     string
	sup      Supervisor
	endpoint Endpoint
	log      *slog.Logger

	requests metric.Int64Counter
	outcomes metric.Int64Counter

	// mu guards everything below. cond is signaled when Delivering ends.
	mu       stdsync.Mutex
	cond     *stdsync.Cond
	state    ResolutionState
	version  version.Version
	resolved bool
	pending  []VersionHandler
	closed   bool
}

// NewRPCTarget gets an endpoint for spec from sup. The returned target holds one
// reference on the endpoint until Close.
func NewRPCTarget(ctx context.Context, spec string, sup Supervisor, opts ...Option) (*RPCTarget, error) {
	o := targetOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.meter == nil {
		o.meter = context.Meter(ctx)
	}

	ep, err := sup.GetTarget(ctx, spec)
	if err != nil {
		return nil, errors.E(ctx, errors.CatUser, errors.TypeConn, fmt.Errorf("could not get endpoint for %q: %w", spec, err))
	}

	t := &RPCTarget{
		spec:     spec,
		sup:      sup,
		endpoint: ep,
		log:      o.log.With("target", spec),
	}
	t.cond = stdsync.NewCond(&t.mu)

	t.requests, err = o.meter.Int64Counter(
		"mbus.version.request_count",
		metric.WithDescription("Number of mbus.getVersion requests sent"),
	)
	if err != nil {
		ep.SubRef()
		return nil, err
	}
	t.outcomes, err = o.meter.Int64Counter(
		"mbus.version.outcome_count",
		metric.WithDescription("Number of finished version requests by outcome"),
	)
	if err != nil {
		ep.SubRef()
		return nil, err
	}

	t.log.Debug("rpc target created")
	return t, nil
}

// Spec returns the connection spec of the target.
func (t *RPCTarget) Spec() string {
	return t.spec
}

// State returns the current resolution state.
func (t *RPCTarget) State() ResolutionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Version returns the cached version, if any.
func (t *RPCTarget) Version() (version.Version, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version, t.resolved
}

// ResolveVersion calls handler exactly once with the endpoint's version.
//
// A cached version is handed to handler before ResolveVersion returns. Otherwise
// handler is queued and called from the goroutine that completes the version
// request, which may be this one. Only one request is in flight at any time;
// the caller that finds no request in flight sends it with the given timeout.
// If deliveries of a previous request are still running, ResolveVersion waits
// for them to finish first, so a handler must not call ResolveVersion on the
// target that is calling it.
//
// A closed target sends nothing: handler gets the cached version, or no version
// if there is none.
func (t *RPCTarget) ResolveVersion(ctx context.Context, timeout time.Duration, handler VersionHandler) {
	var (
		cached bool
		invoke bool
		v      version.Version
		ok     bool
	)

	t.mu.Lock()
	switch t.state {
	case Resolved, Delivering:
		for t.state == Delivering {
			t.cond.Wait()
		}
		cached = true
		v, ok = t.version, t.resolved
	case Unresolved:
		if t.closed {
			cached = true
			break
		}
		fallthrough
	default:
		t.pending = append(t.pending, handler)
		if t.state != Invoked {
			t.state = Invoked
			invoke = true
		}
	}
	t.mu.Unlock()

	switch {
	case cached:
		handler.HandleVersion(v, ok)
	case invoke:
		req := t.sup.AllocRequest(ctx)
		req.SetMethodName(GetVersionMethod)
		t.log.Debug("requesting version", "timeout", timeout)
		t.requests.Add(ctx, 1)
		t.endpoint.InvokeAsync(ctx, req, timeout, t)
	}
}

// IsValid reports if the target is still usable: its endpoint is valid or a
// version request is still in flight.
func (t *RPCTarget) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.endpoint.IsValid() {
		return true
	}
	// Stay alive until RequestDone has run.
	return t.state == Invoked || t.state == Delivering
}

// RequestDone completes the in-flight version request. It implements
// client.RequestWaiter and is called by the endpoint, never by users.
// It panics if no version request is in flight.
func (t *RPCTarget) RequestDone(req *client.Request) {
	t.mu.Lock()
	if t.state != Invoked {
		state := t.state
		t.mu.Unlock()
		panic(fmt.Sprintf("network.RPCTarget(%s): version request completed in state %s, want %s", t.spec, state, Invoked))
	}

	outcome := outcomeUnresolved
	switch {
	case req.CheckReturnTypes("s"):
		s := req.Return()[0].String()
		v, err := version.Parse(s)
		if err != nil {
			outcome = outcomeMalformed
			t.log.Warn("endpoint returned a malformed version", "version", s, "err", err)
			break
		}
		t.version, t.resolved = v, true
		outcome = outcomeResolved
	case req.ErrorCode() == client.ErrNoSuchMethod:
		t.version, t.resolved = FallbackVersion, true
		outcome = outcomeFallback
	default:
		t.log.Debug("version request failed", "code", req.ErrorCode(), "msg", req.ErrorMessage())
	}
	handlers := t.pending
	t.pending = nil
	v, ok := t.version, t.resolved
	t.state = Delivering
	t.mu.Unlock()

	t.log.Debug("version resolution finished", "outcome", outcome, "version", v, "handlers", len(handlers))
	t.outcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	for _, h := range handlers {
		h.HandleVersion(v, ok)
	}

	t.mu.Lock()
	if t.resolved {
		t.state = Resolved
	} else {
		t.state = Unresolved
	}
	t.cond.Broadcast()
	t.mu.Unlock()

	req.SubRef()
}

// Close releases the target's endpoint reference. Only the first call has an
// effect. A version request still in flight is aborted by the endpoint and its
// handlers get no version.
func (t *RPCTarget) Close() {
	t.release(false)
}

// closeIdle closes t unless a version request is in flight. It reports if t is
// closed afterwards.
func (t *RPCTarget) closeIdle() bool {
	return t.release(true)
}

func (t *RPCTarget) release(onlyIdle bool) bool {
	t.mu.Lock()
	if onlyIdle && (t.state == Invoked || t.state == Delivering) {
		t.mu.Unlock()
		return false
	}
	first := !t.closed
	t.closed = true
	t.mu.Unlock()

	if first {
		t.endpoint.SubRef()
		t.log.Debug("rpc target released")
	}
	return true
}
