// Package interceptor provides server interceptors for cross-cutting concerns
// like logging, metrics and rate limiting in RPC calls. Metrics and tracing live
// in the otel subpackage, rate limiting in ratelimit.
package interceptor

import (
	"log/slog"
	"net"
	"time"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/frame"
)

// ServerInfo describes the call a server interceptor is wrapping.
type ServerInfo struct {
	Method string
	// Remote is the address of the caller, if the transport knows it.
	Remote net.Addr
}

// Handler is the handler that a server interceptor wraps.
type Handler func(ctx context.Context, params frame.Values) (frame.Values, error)

// ServerInterceptor intercepts RPC calls on the server. It can inspect or modify
// the params, call next and inspect or modify the result.
type ServerInterceptor func(ctx context.Context, params frame.Values, info *ServerInfo, next Handler) (frame.Values, error)

// ChainServer chains multiple server interceptors into one.
// Interceptors are executed in the order provided.
func ChainServer(interceptors ...ServerInterceptor) ServerInterceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}

	return func(ctx context.Context, params frame.Values, info *ServerInfo, h Handler) (frame.Values, error) {
		return chainServerHandler(interceptors, 0, info, h)(ctx, params)
	}
}

func chainServerHandler(interceptors []ServerInterceptor, idx int, info *ServerInfo, final Handler) Handler {
	if idx == len(interceptors) {
		return final
	}
	return func(ctx context.Context, params frame.Values) (frame.Values, error) {
		return interceptors[idx](ctx, params, info, chainServerHandler(interceptors, idx+1, info, final))
	}
}

// Logging logs every call at debug level and failed calls at warn level.
func Logging(log *slog.Logger) ServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, params frame.Values, info *ServerInfo, next Handler) (frame.Values, error) {
		start := time.Now()
		vals, err := next(ctx, params)
		if err != nil {
			log.Warn("rpc failed", "method", info.Method, "remote", info.Remote, "elapsed", time.Since(start), "err", err)
			return vals, err
		}
		log.Debug("rpc", "method", info.Method, "remote", info.Remote, "elapsed", time.Since(start))
		return vals, nil
	}
}
