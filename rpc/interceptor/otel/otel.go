// Package otel provides an OpenTelemetry tracing and metrics interceptor for RPC servers.
package otel

import (
	"net"
	"time"

	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/telemetry/otel/trace/span"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/interceptor"
)

// Config configures the interceptor.
type Config struct {
	// EnableTracing starts a server span for every call. Default is true.
	EnableTracing bool

	// EnableMetrics enables metrics collection. Default is true.
	EnableMetrics bool

	// MeterProvider for metrics. If nil, uses context.Meter().
	MeterProvider metric.MeterProvider

	// TraceRules selects calls that are traced even when EnableTracing is false.
	TraceRules *TraceRules
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
	}
}

// TraceRules defines conditions for always-trace scenarios.
// If any condition matches, the request is traced.
type TraceRules struct {
	// IPRanges are CIDR blocks whose callers are always traced.
	// Example: ["10.0.0.0/8", "192.168.1.0/24"]
	IPRanges []string

	// Methods are RPC methods to always trace, such as "mbus.getVersion".
	Methods []string

	cidrs []*net.IPNet
}

func (r *TraceRules) compile() error {
	if r == nil {
		return nil
	}

	r.cidrs = make([]*net.IPNet, 0, len(r.IPRanges))
	for _, cidr := range r.IPRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return err
		}
		r.cidrs = append(r.cidrs, network)
	}
	return nil
}

func (r *TraceRules) matchesIP(addr net.Addr) bool {
	if r == nil || len(r.cidrs) == 0 || addr == nil {
		return false
	}

	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return false
		}
		ip = net.ParseIP(host)
	}
	if ip == nil {
		return false
	}

	for _, cidr := range r.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ShouldTrace returns true if any trace rule matches the call.
func (r *TraceRules) ShouldTrace(info *interceptor.ServerInfo) bool {
	if r == nil {
		return false
	}
	for _, m := range r.Methods {
		if m == info.Method {
			return true
		}
	}
	return r.matchesIP(info.Remote)
}

// Interceptor holds the OTEL instrumentation state.
type Interceptor struct {
	cfg Config

	duration metric.Float64Histogram
	requests metric.Int64Counter
}

// New creates a new OTEL Interceptor with the given configuration.
func New(ctx context.Context, cfg Config) (*Interceptor, error) {
	i := &Interceptor{cfg: cfg}

	if cfg.EnableMetrics {
		var meter metric.Meter
		if cfg.MeterProvider != nil {
			meter = cfg.MeterProvider.Meter("mbus-rpc-server")
		} else {
			meter = context.Meter(ctx)
		}

		var err error
		i.duration, err = meter.Float64Histogram(
			"mbus.server.duration",
			metric.WithDescription("Duration of RPC server calls in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return nil, err
		}
		i.requests, err = meter.Int64Counter(
			"mbus.server.request_count",
			metric.WithDescription("Total number of RPC server requests"),
		)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.TraceRules.compile(); err != nil {
		return nil, err
	}
	return i, nil
}

// ServerInterceptor returns a server interceptor with tracing and metrics.
func (i *Interceptor) ServerInterceptor() interceptor.ServerInterceptor {
	return func(ctx context.Context, params frame.Values, info *interceptor.ServerInfo, next interceptor.Handler) (frame.Values, error) {
		start := time.Now()

		var sp span.Span
		traced := i.cfg.EnableTracing || i.cfg.TraceRules.ShouldTrace(info)
		if traced {
			ctx, sp = span.New(ctx,
				span.WithName(info.Method),
				span.WithSpanStartOption(trace.WithSpanKind(trace.SpanKindServer)),
			)
			defer sp.End()

			sp.Span.SetAttributes(
				attribute.String("rpc.system", "mbus"),
				attribute.String("rpc.method", info.Method),
				attribute.String("rpc.param_types", params.Types()),
			)
		}

		vals, err := next(ctx, params)

		status := "ok"
		if err != nil {
			status = "error"
			if traced {
				sp.Span.RecordError(err)
				sp.Span.SetStatus(codes.Error, err.Error())
			}
		}

		if i.cfg.EnableMetrics {
			attrs := metric.WithAttributes(
				attribute.String("rpc_method", info.Method),
				attribute.String("rpc_status", status),
			)
			i.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
			i.requests.Add(ctx, 1, attrs)
		}
		return vals, err
	}
}
