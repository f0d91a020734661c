package network

import (
	"log/slog"
	"time"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/errors"
)

// ErrPoolClosed is returned by a closed TargetPool.
var ErrPoolClosed = errors.New("target pool closed")

type poolEntry struct {
	target  *RPCTarget
	lastUse time.Time
}

// TargetPool keeps one RPCTarget per connection spec so version resolution is
// shared by everyone talking to the same endpoint. Targets that went invalid or
// were not used for the expiry period are closed by Flush, unless a version
// request of theirs is still in flight.
type TargetPool struct {
	sup    Supervisor
	expire time.Duration
	opts   []Option
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	targets map[string]*poolEntry
	closed  bool
}

// NewTargetPool returns a pool creating targets from sup with opts. A target idle
// for longer than expire is closed by the next Flush.
func NewTargetPool(sup Supervisor, expire time.Duration, opts ...Option) *TargetPool {
	o := targetOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &TargetPool{
		sup:     sup,
		expire:  expire,
		opts:    opts,
		log:     o.log,
		now:     time.Now,
		targets: map[string]*poolEntry{},
	}
}

// Get returns the pooled target for spec, creating it if there is none or the
// pooled one is no longer valid. Returned targets are owned by the pool and
// must not be closed by the caller. A caller holding a target the pool has
// since flushed gets only the cached version from it, see ResolveVersion.
func (p *TargetPool) Get(ctx context.Context, spec string) (*RPCTarget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	now := p.now()
	if e, ok := p.targets[spec]; ok {
		// A target that turned busy since IsValid was checked stays.
		if e.target.IsValid() || !e.target.closeIdle() {
			e.lastUse = now
			return e.target, nil
		}
		delete(p.targets, spec)
	}

	t, err := NewRPCTarget(ctx, spec, p.sup, p.opts...)
	if err != nil {
		return nil, err
	}
	p.targets[spec] = &poolEntry{target: t, lastUse: now}
	return t, nil
}

// Flush closes and forgets every target that is no longer valid or has not
// been handed out by Get since now minus the expiry period. Targets with a
// version request in flight are kept in both cases.
func (p *TargetPool) Flush(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for spec, e := range p.targets {
		switch {
		case !e.target.IsValid():
			p.log.Debug("flushing invalid target", "target", spec)
		case now.Sub(e.lastUse) > p.expire:
			p.log.Debug("flushing expired target", "target", spec, "idle", now.Sub(e.lastUse))
		default:
			continue
		}
		if !e.target.closeIdle() {
			p.log.Debug("keeping target with a version request in flight", "target", spec)
			continue
		}
		delete(p.targets, spec)
	}
}

// Size returns the number of pooled targets.
func (p *TargetPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.targets)
}

// Close closes all pooled targets. Later calls to Get fail with ErrPoolClosed.
func (p *TargetPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for spec, e := range p.targets {
		e.target.Close()
		delete(p.targets, spec)
	}
}
