package main

import (
	"errors"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/health"
)

// fakeListener serves until Shutdown is called or stop is closed, or fails
// right away with err.
type fakeListener struct {
	err      error
	stop     chan struct{}
	shutdown chan struct{}
}

func newFakeListener(err error) *fakeListener {
	return &fakeListener{err: err, stop: make(chan struct{}), shutdown: make(chan struct{})}
}

func (f *fakeListener) ListenAndServe(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	select {
	case <-f.stop:
	case <-f.shutdown:
	}
	return nil
}

func (f *fakeListener) Shutdown(ctx context.Context) error {
	close(f.shutdown)
	return nil
}

func TestServe(t *testing.T) {
	errListen := errors.New("address in use")

	tests := []struct {
		name string
		err  error
		// signal sends SIGTERM instead of letting the listener return by itself.
		signal        bool
		wantErr       bool
		wantStatus    health.ServingStatus
		wantCancelled bool
	}{
		{name: "Success: listener returns without a signal", wantStatus: health.Serving},
		{name: "Success: signal shuts down", signal: true, wantStatus: health.NotServing, wantCancelled: true},
		{name: "Error: listener fails", err: errListen, wantErr: true, wantStatus: health.Serving},
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	for _, test := range tests {
		ctx, cancel := context.WithCancel(t.Context())
		l := newFakeListener(test.err)
		hs := health.NewServer()
		sigs := make(chan os.Signal, 1)
		if test.signal {
			sigs <- syscall.SIGTERM
		} else if test.err == nil {
			close(l.stop)
		}

		done := make(chan error, 1)
		go func() { done <- serve(ctx, cancel, l, sigs, hs, time.Second, log) }()

		var err error
		select {
		case err = <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("[TestServe(%s)]: serve did not return", test.name)
		}

		switch {
		case err == nil && test.wantErr:
			t.Errorf("[TestServe(%s)]: got err == nil, want err != nil", test.name)
		case err != nil && !test.wantErr:
			t.Errorf("[TestServe(%s)]: got err == %s, want err == nil", test.name, err)
		case err != nil && !errors.Is(err, errListen):
			t.Errorf("[TestServe(%s)]: got err == %s, want %s", test.name, err, errListen)
		}
		if got := hs.ServingStatus(""); got != test.wantStatus {
			t.Errorf("[TestServe(%s)]: health %s, want %s", test.name, got, test.wantStatus)
		}
		if got := ctx.Err() != nil; got != test.wantCancelled {
			t.Errorf("[TestServe(%s)]: context canceled == %v, want %v", test.name, got, test.wantCancelled)
		}
		cancel()
	}
}
