package network

import (
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/rpc/frame"
)

type invocation struct {
	req     *client.Request
	timeout time.Duration
	w       client.RequestWaiter
}

// fakeEndpoint records invocations and lets the test complete them.
type fakeEndpoint struct {
	mu      stdsync.Mutex
	valid   bool
	invokes []invocation
	subRefs int
	invoked chan struct{}
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{valid: true, invoked: make(chan struct{}, 100)}
}

func (f *fakeEndpoint) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakeEndpoint) setValid(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = v
}

func (f *fakeEndpoint) InvokeAsync(ctx context.Context, req *client.Request, timeout time.Duration, w client.RequestWaiter) {
	f.mu.Lock()
	f.invokes = append(f.invokes, invocation{req: req, timeout: timeout, w: w})
	f.mu.Unlock()
	f.invoked <- struct{}{}
}

func (f *fakeEndpoint) SubRef() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subRefs++
}

func (f *fakeEndpoint) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invokes)
}

func (f *fakeEndpoint) refsReleased() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subRefs
}

// last waits for an invocation and returns the latest one.
func (f *fakeEndpoint) last(t *testing.T) invocation {
	t.Helper()
	select {
	case <-f.invoked:
	case <-time.After(5 * time.Second):
		t.Fatalf("no version request was sent")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invokes[len(f.invokes)-1]
}

// serve completes every invocation with respond until done is closed. n counts
// invocations from 1.
func (f *fakeEndpoint) serve(done <-chan struct{}, respond func(n int, inv invocation)) {
	for {
		select {
		case <-f.invoked:
			f.mu.Lock()
			n, inv := len(f.invokes), f.invokes[len(f.invokes)-1]
			f.mu.Unlock()
			respond(n, inv)
		case <-done:
			return
		}
	}
}

// reply completes inv as if the endpoint returned vals.
func (inv invocation) reply(vals ...frame.Value) {
	inv.req.SetReturn(frame.Values(vals))
	inv.w.RequestDone(inv.req)
}

// fail completes inv with an error code.
func (inv invocation) fail(code client.ErrorCode) {
	inv.req.SetError(code, code.String())
	inv.w.RequestDone(inv.req)
}

type fakeSupervisor struct {
	ep  *fakeEndpoint
	err error

	mu    stdsync.Mutex
	specs []string
	eps   []*fakeEndpoint
}

func (s *fakeSupervisor) GetTarget(ctx context.Context, spec string) (Endpoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)

	ep := s.ep
	if ep == nil {
		ep = newFakeEndpoint()
	}
	s.eps = append(s.eps, ep)
	return ep, nil
}

func (s *fakeSupervisor) AllocRequest(ctx context.Context) *client.Request {
	return client.NewRequest(ctx)
}

func newTarget(t *testing.T) (*RPCTarget, *fakeEndpoint) {
	t.Helper()

	ep := newFakeEndpoint()
	target, err := NewRPCTarget(t.Context(), "tcp/localhost:19090", &fakeSupervisor{ep: ep})
	if err != nil {
		t.Fatalf("NewRPCTarget: %s", err)
	}
	t.Cleanup(target.Close)
	return target, ep
}

var errRefused = errors.New("connection refused")
