// Package client is the calling side of the mbus RPC protocol.
//
// A Supervisor hands out one shared, reference counted Target per connection
// spec ("tcp/host:port"). Requests are invoked asynchronously on a Target and
// every invocation ends with exactly one call to the RequestWaiter, whether the
// request got a reply, timed out or lost its connection.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"go.opentelemetry.io/otel/metric"

	"github.com/bearlytools/mbus/rpc/compress"
	"github.com/bearlytools/mbus/rpc/transport"
	"github.com/bearlytools/mbus/rpc/transport/tcp"
	"github.com/bearlytools/mbus/rpc/transport/unix"
)

// ErrClosed is returned by a Supervisor that has been closed.
var ErrClosed = errors.New("supervisor closed")

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDialer registers dial for connection specs starting with scheme + "/".
// "tcp" and "unix" are registered by default.
func WithDialer(scheme string, dial transport.DialFunc) Option {
	return func(s *Supervisor) {
		s.dialers[scheme] = dial
	}
}

// WithCompression sets the compression used for request bodies.
func WithCompression(c compress.Compression) Option {
	return func(s *Supervisor) {
		s.compression = c
	}
}

// WithMeterProvider sets where metrics are recorded. Defaults to context.Meter(ctx).
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Supervisor) {
		s.meterProvider = mp
	}
}

// Supervisor owns all connections of a client.
type Supervisor struct {
	log           *slog.Logger
	dialers       map[string]transport.DialFunc
	compression   compress.Compression
	meterProvider metric.MeterProvider

	duration metric.Float64Histogram
	requests metric.Int64Counter

	mu      sync.Mutex
	targets map[string]*Target
	closed  bool
}

// New creates a Supervisor.
func New(ctx context.Context, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		log:     slog.Default(),
		dialers: map[string]transport.DialFunc{
			"tcp":  tcp.DialFunc(),
			"unix": unix.DialFunc(),
		},
		targets: map[string]*Target{},
	}
	for _, o := range opts {
		o(s)
	}

	var meter metric.Meter
	if s.meterProvider != nil {
		meter = s.meterProvider.Meter("mbus-rpc-client")
	} else {
		meter = context.Meter(ctx)
	}

	var err error
	s.duration, err = meter.Float64Histogram(
		"mbus.client.duration",
		metric.WithDescription("Duration of RPC client calls in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	s.requests, err = meter.Int64Counter(
		"mbus.client.request_count",
		metric.WithDescription("Total number of RPC client requests"),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ParseSpec splits a connection spec such as "tcp/localhost:19090" into its
// scheme and address.
func ParseSpec(spec string) (scheme, addr string, err error) {
	scheme, addr, ok := strings.Cut(spec, "/")
	if !ok || scheme == "" || addr == "" {
		return "", "", fmt.Errorf("connection spec %q is not of the form scheme/address", spec)
	}
	return scheme, addr, nil
}

// GetTarget returns the Target for spec with one reference added for the caller,
// who must release it with SubRef. Targets that lost their connection are
// replaced by a fresh one.
func (s *Supervisor) GetTarget(ctx context.Context, spec string) (*Target, error) {
	scheme, addr, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	dial, ok := s.dialers[scheme]
	if !ok {
		return nil, fmt.Errorf("connection spec %q: no dialer for scheme %q", spec, scheme)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if t, ok := s.targets[spec]; ok && t.IsValid() && t.tryAddRef() {
		return t, nil
	}

	t := newTarget(ctx, s, spec, addr, dial)
	s.targets[spec] = t
	s.log.Debug("created rpc target", "spec", spec)
	return t, nil
}

// AllocRequest returns an empty Request.
func (s *Supervisor) AllocRequest(ctx context.Context) *Request {
	return NewRequest(ctx)
}

// Targets returns the number of live targets.
func (s *Supervisor) Targets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// forget removes t once its last reference is gone.
func (s *Supervisor) forget(t *Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targets[t.spec] == t {
		delete(s.targets, t.spec)
	}
}

// Close closes the connection of every target. Outstanding requests finish
// with ErrAbort. Targets still referenced stay usable as invalid targets.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	targets := make([]*Target, 0, len(s.targets))
	for _, t := range s.targets {
		targets = append(targets, t)
	}
	s.targets = map[string]*Target{}
	s.mu.Unlock()

	for _, t := range targets {
		t.shutdown(ErrAbort, "supervisor closed")
	}
	return nil
}
