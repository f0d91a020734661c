// Package gate provides Gate, a one-shot completion signal.
//
// A Gate is opened exactly once by CountDown. Any number of goroutines may wait
// on it with Await, before or after it opens; all of them are released together.
package gate

import (
	"sync/atomic"

	"github.com/gostdlib/base/context"
)

// Gate is a single use completion signal. The zero value is not usable, use New.
type Gate struct {
	done   chan struct{}
	opened atomic.Bool
}

// New returns a Gate that has not been opened.
func New() *Gate {
	return &Gate{done: make(chan struct{})}
}

// CountDown opens the gate. Only the first call has an effect.
func (g *Gate) CountDown() {
	if g.opened.CompareAndSwap(false, true) {
		close(g.done)
	}
}

// Await blocks until the gate opens or ctx is done.
func (g *Gate) Await(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	default:
	}

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when the gate opens.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// IsOpen reports if CountDown has been called.
func (g *Gate) IsOpen() bool {
	return g.opened.Load()
}
