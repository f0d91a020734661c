// Package ratelimit provides a rate limiting interceptor for RPC servers.
// It uses a token bucket algorithm to limit request rates per key.
package ratelimit

import (
	"errors"
	"net"
	"time"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/interceptor"
	"github.com/bearlytools/mbus/rpc/server"
)

// ErrRateLimited is the message of the error rejected calls are answered with.
var ErrRateLimited = errors.New("rate limited")

// KeyFunc extracts a rate limiting key from a call.
// Calls with the same key share rate limits.
type KeyFunc func(info *interceptor.ServerInfo) string

// ByMethod returns a KeyFunc that limits by method name.
func ByMethod() KeyFunc {
	return func(info *interceptor.ServerInfo) string {
		return info.Method
	}
}

// ByRemote returns a KeyFunc that limits by the caller's host.
func ByRemote() KeyFunc {
	return remoteHost
}

// ByMethodAndRemote returns a KeyFunc that limits by both method and caller.
// Format: "method:host"
func ByMethodAndRemote() KeyFunc {
	return func(info *interceptor.ServerInfo) string {
		return info.Method + ":" + remoteHost(info)
	}
}

func remoteHost(info *interceptor.ServerInfo) string {
	if info.Remote == nil {
		return ""
	}
	s := info.Remote.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}

// Config configures a rate limiter.
type Config struct {
	// Rate is the number of requests allowed per second.
	Rate float64

	// Burst is the maximum number of requests that can be made at once.
	Burst int

	// KeyFunc extracts the rate limiting key from a call.
	// If nil, all requests share a single rate limit.
	KeyFunc KeyFunc
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// Limiter implements rate limiting using the token bucket algorithm.
type Limiter struct {
	rate    float64
	burst   int
	keyFunc KeyFunc
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a new rate limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(*interceptor.ServerInfo) string { return "" }
	}

	return &Limiter{
		rate:    cfg.Rate,
		burst:   cfg.Burst,
		keyFunc: cfg.KeyFunc,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// allow reports if a request with the given key may proceed and takes a token if so.
func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(l.burst),
			lastUpdate: now,
		}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// ServerInterceptor returns an interceptor that answers calls over the limit with
// frame.CodeOverload without running the handler.
func (l *Limiter) ServerInterceptor() interceptor.ServerInterceptor {
	return func(ctx context.Context, params frame.Values, info *interceptor.ServerInfo, next interceptor.Handler) (frame.Values, error) {
		if !l.allow(l.keyFunc(info)) {
			return nil, server.Errorf(frame.CodeOverload, "%s: %s", info.Method, ErrRateLimited)
		}
		return next(ctx, params)
	}
}

// Cleanup removes rate limit entries that haven't been used for the given duration.
// Call this periodically to prevent memory growth from many unique keys.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for key, b := range l.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stats returns the number of tracked keys.
func (l *Limiter) Stats() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
