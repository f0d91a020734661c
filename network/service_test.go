package network

import (
	"net"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gostdlib/base/context"
	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/sync/errgroup"

	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/server"
	"github.com/bearlytools/mbus/rpc/transport"
	"github.com/bearlytools/mbus/version"
)

// endToEnd returns a Supervisor whose "pipe" scheme connects to srv.
func endToEnd(t *testing.T, srv *server.Server) Supervisor {
	t.Helper()

	dial := func(ctx context.Context, addr string) (transport.Transport, error) {
		cli, s := net.Pipe()
		go srv.Serve(t.Context(), s)
		return cli, nil
	}
	sup, err := client.New(t.Context(), client.WithDialer("pipe", dial))
	if err != nil {
		t.Fatalf("client.New: %s", err)
	}
	t.Cleanup(func() {
		sup.Close()
		srv.Close()
	})
	return FromClient(sup)
}

func startVersionServer(t *testing.T, v string) (*server.Server, *VersionService) {
	t.Helper()

	svc, stop, err := StartVersionService(t.Context(), version.MustParse(v), nil)
	if err != nil {
		t.Fatalf("StartVersionService: %s", err)
	}
	t.Cleanup(stop)

	srv := server.New()
	if err := svc.Register(srv); err != nil {
		t.Fatalf("Register: %s", err)
	}
	return srv, svc
}

// waitState waits for deliveries to finish and target to settle in want.
func waitState(t *testing.T, target *RPCTarget, want ResolutionState) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for target.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("target stuck in state %s, want %s", target.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScenarioConcurrentResolution(t *testing.T) {
	srv, _ := startVersionServer(t, "5.2")
	var calls atomic.Int32
	// Count requests on the wire by wrapping the registered handler.
	h, _ := srv.Registry().Lookup(GetVersionMethod)
	counted := server.New()
	counted.Register(GetVersionMethod, func(ctx context.Context, p frame.Values) (frame.Values, error) {
		calls.Add(1)
		return h(ctx, p)
	})

	target, err := NewRPCTarget(t.Context(), "pipe/node1", endToEnd(t, counted))
	if err != nil {
		t.Fatalf("[TestScenarioConcurrentResolution]: NewRPCTarget: %s", err)
	}
	defer target.Close()

	const callers = 8
	var (
		mu  stdsync.Mutex
		got []string
	)
	g, ctx := errgroup.WithContext(t.Context())
	for range callers {
		g.Go(func() error {
			v, ok, err := Resolve(ctx, target, 5*time.Second)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				got = append(got, v.String())
			} else {
				got = append(got, "unresolved")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("[TestScenarioConcurrentResolution]: Resolve: %s", err)
	}

	want := []string{"5.2", "5.2", "5.2", "5.2", "5.2", "5.2", "5.2", "5.2"}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("[TestScenarioConcurrentResolution]: -want +got:\n%s", diff)
	}
	// Callers that arrive after the reply are served from the cache.
	if n := calls.Load(); n != 1 {
		t.Errorf("[TestScenarioConcurrentResolution]: %d version requests on the wire, want 1", n)
	}
}

func TestScenarioUnknownMethodFallsBack(t *testing.T) {
	target, err := NewRPCTarget(t.Context(), "pipe/legacy", endToEnd(t, server.New()))
	if err != nil {
		t.Fatalf("[TestScenarioUnknownMethodFallsBack]: NewRPCTarget: %s", err)
	}
	defer target.Close()

	v, ok, err := Resolve(t.Context(), target, 5*time.Second)
	if err != nil {
		t.Fatalf("[TestScenarioUnknownMethodFallsBack]: Resolve: %s", err)
	}
	if !ok || !v.Equal(FallbackVersion) {
		t.Errorf("[TestScenarioUnknownMethodFallsBack]: got (%s, %v), want (%s, true)", v, ok, FallbackVersion)
	}
	waitState(t, target, Resolved)
}

func TestScenarioTimeoutThenRetry(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := server.New()
	srv.Register(GetVersionMethod, func(ctx context.Context, p frame.Values) (frame.Values, error) {
		if calls.Add(1) == 1 {
			// Answer the first request too late.
			<-release
		}
		return frame.Values{frame.StringValue("6.0")}, nil
	})
	defer close(release)

	target, err := NewRPCTarget(t.Context(), "pipe/slow", endToEnd(t, srv))
	if err != nil {
		t.Fatalf("[TestScenarioTimeoutThenRetry]: NewRPCTarget: %s", err)
	}
	defer target.Close()

	_, ok, err := Resolve(t.Context(), target, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("[TestScenarioTimeoutThenRetry]: Resolve: %s", err)
	}
	if ok {
		t.Fatalf("[TestScenarioTimeoutThenRetry]: first resolution succeeded, want timeout")
	}
	// A caller arriving while the failure is still being delivered would get the
	// same failure, so wait for the target to allow a new request.
	waitState(t, target, Unresolved)

	v, ok, err := Resolve(t.Context(), target, 5*time.Second)
	if err != nil {
		t.Fatalf("[TestScenarioTimeoutThenRetry]: Resolve: %s", err)
	}
	if !ok || v.String() != "6.0" {
		t.Errorf("[TestScenarioTimeoutThenRetry]: got (%s, %v), want (6.0, true)", v, ok)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("[TestScenarioTimeoutThenRetry]: %d version requests, want 2", n)
	}
}

func TestVersionServiceSetVersion(t *testing.T) {
	srv, svc := startVersionServer(t, "5.2")
	pool := NewTargetPool(endToEnd(t, srv), time.Minute)
	defer pool.Close()

	if err := svc.SetVersion(t.Context(), version.MustParse("8.1.3.rc1")); err != nil {
		t.Fatalf("[TestVersionServiceSetVersion]: SetVersion: %s", err)
	}
	cur, err := svc.Version(t.Context())
	if err != nil || cur.String() != "8.1.3.rc1" {
		t.Fatalf("[TestVersionServiceSetVersion]: Version() == (%s, %v), want 8.1.3.rc1", cur, err)
	}

	target, err := pool.Get(t.Context(), "pipe/node")
	if err != nil {
		t.Fatalf("[TestVersionServiceSetVersion]: Get: %s", err)
	}
	v, ok, err := Resolve(t.Context(), target, 5*time.Second)
	if err != nil || !ok || v.String() != "8.1.3.rc1" {
		t.Errorf("[TestVersionServiceSetVersion]: Resolve == (%s, %v, %v), want (8.1.3.rc1, true, nil)", v, ok, err)
	}
}

func TestVersionServiceRejectsParams(t *testing.T) {
	srv, _ := startVersionServer(t, "5.2")
	sup := endToEnd(t, srv)

	ep, err := sup.GetTarget(t.Context(), "pipe/node")
	if err != nil {
		t.Fatalf("[TestVersionServiceRejectsParams]: GetTarget: %s", err)
	}
	defer ep.SubRef()

	req := sup.AllocRequest(t.Context()).SetMethodName(GetVersionMethod)
	req.Params().AddString("unexpected")
	done := make(chan client.ErrorCode, 1)
	ep.InvokeAsync(t.Context(), req, 5*time.Second, client.RequestDoneFunc(func(r *client.Request) {
		done <- r.ErrorCode()
		r.SubRef()
	}))
	if got := <-done; got != client.ErrWrongParams {
		t.Errorf("[TestVersionServiceRejectsParams]: got code %s, want %s", got, client.ErrWrongParams)
	}
}

func TestResolveContextCanceled(t *testing.T) {
	target, ep := newTarget(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, _, err := Resolve(ctx, target, time.Second); err == nil {
		t.Errorf("[TestResolveContextCanceled]: got err == nil, want err != nil")
	}

	// The request stays in flight and its result is still cached.
	ep.last(t).reply(frame.StringValue("5.2"))
	if v, ok := target.Version(); !ok || v.String() != "5.2" {
		t.Errorf("[TestResolveContextCanceled]: Version() == (%s, %v), want (5.2, true)", v, ok)
	}
}
