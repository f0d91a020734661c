package gate

import (
	"testing"
	"time"

	"github.com/gostdlib/base/context"
)

func TestGate(t *testing.T) {
	tests := []struct {
		name        string
		signalFirst bool
	}{
		{name: "Success: wait before signal", signalFirst: false},
		{name: "Success: wait after signal", signalFirst: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := New()
			if test.signalFirst {
				g.CountDown()
			} else {
				go func() {
					time.Sleep(10 * time.Millisecond)
					g.CountDown()
				}()
			}

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			if err := g.Await(ctx); err != nil {
				t.Fatalf("[TestGate(%s)]: got err == %s, want err == nil", test.name, err)
			}
			if !g.IsOpen() {
				t.Errorf("[TestGate(%s)]: IsOpen() == false after Await returned", test.name)
			}
		})
	}
}

func TestGateManyWaiters(t *testing.T) {
	g := New()
	const waiters = 10

	released := make(chan struct{}, waiters)
	for range waiters {
		go func() {
			_ = g.Await(context.Background())
			released <- struct{}{}
		}()
	}

	select {
	case <-released:
		t.Fatalf("[TestGateManyWaiters]: a waiter was released before CountDown")
	case <-time.After(20 * time.Millisecond):
	}

	g.CountDown()
	g.CountDown() // Extra signals are ignored.

	for i := 0; i < waiters; i++ {
		select {
		case <-released:
		case <-time.After(5 * time.Second):
			t.Fatalf("[TestGateManyWaiters]: only %d of %d waiters released", i, waiters)
		}
	}
}

func TestGateAwaitCanceled(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Await(ctx); err == nil {
		t.Errorf("[TestGateAwaitCanceled]: got err == nil, want err != nil")
	}
}
