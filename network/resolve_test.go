package network

import (
	"errors"
	"testing"
	"time"

	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/retry/exponential"

	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/rpc/frame"
)

func testBackoff(t *testing.T) *exponential.Backoff {
	t.Helper()

	b, err := exponential.New(exponential.WithPolicy(exponential.Policy{
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     5 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("exponential.New: %s", err)
	}
	return b
}

func TestResolveWithRetry(t *testing.T) {
	failTwice := func(n int, inv invocation) {
		if n <= 2 {
			inv.fail(client.ErrTimeout)
			return
		}
		inv.reply(frame.StringValue("6.1"))
	}
	alwaysFail := func(n int, inv invocation) { inv.fail(client.ErrConnection) }

	tests := []struct {
		name     string
		respond  func(n int, inv invocation)
		attempts int
		cancel   bool
		want     string
		wantOK   bool
		// maxRequests bounds the version requests sent, minRequests is the least.
		minRequests int
		maxRequests int
		wantErr     bool
	}{
		{
			name:        "Success: resolved after two failures",
			respond:     failTwice,
			want:        "6.1",
			wantOK:      true,
			minRequests: 3,
			maxRequests: 3,
		},
		{
			name:        "Success: out of attempts",
			respond:     alwaysFail,
			attempts:    2,
			want:        "0.0",
			minRequests: 1,
			maxRequests: 2,
		},
		{
			name:        "Error: context canceled",
			respond:     alwaysFail,
			cancel:      true,
			want:        "0.0",
			minRequests: 0,
			maxRequests: 1,
			wantErr:     true,
		},
	}

	for _, test := range tests {
		target, ep := newTarget(t)
		done := make(chan struct{})
		go ep.serve(done, test.respond)

		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		if test.cancel {
			cancel()
		}
		v, ok, err := ResolveWithRetry(ctx, target, time.Second, testBackoff(t), test.attempts)
		cancel()
		close(done)

		switch {
		case err == nil && test.wantErr:
			t.Errorf("[TestResolveWithRetry(%s)]: got err == nil, want err != nil", test.name)
			continue
		case err != nil && !test.wantErr:
			t.Errorf("[TestResolveWithRetry(%s)]: got err == %s, want err == nil", test.name, err)
			continue
		case err != nil:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("[TestResolveWithRetry(%s)]: got err == %s, want context.Canceled", test.name, err)
			}
			continue
		}

		if v.String() != test.want || ok != test.wantOK {
			t.Errorf("[TestResolveWithRetry(%s)]: got (%s, %v), want (%s, %v)", test.name, v, ok, test.want, test.wantOK)
		}
		if n := ep.invocations(); n < test.minRequests || n > test.maxRequests {
			t.Errorf("[TestResolveWithRetry(%s)]: sent %d version requests, want %d to %d", test.name, n, test.minRequests, test.maxRequests)
		}
	}
}
