package executor

import (
	stdsync "sync"
	"testing"
	"time"

	"github.com/gostdlib/base/context"
	"github.com/kylelemons/godebug/pretty"

	"github.com/bearlytools/mbus/errors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		wantErr bool
	}{
		{name: "Success: one worker", workers: 1},
		{name: "Success: many workers", workers: 8},
		{name: "Error: no workers", workers: 0, wantErr: true},
	}

	for _, test := range tests {
		e, err := New(t.Context(), "test", test.workers)
		switch {
		case err == nil && test.wantErr:
			t.Errorf("[TestNew(%s)]: got err == nil, want err != nil", test.name)
			e.Close()
			continue
		case err != nil && !test.wantErr:
			t.Errorf("[TestNew(%s)]: got err == %s, want err == nil", test.name, err)
			continue
		case err != nil:
			continue
		}
		if e.Workers() != test.workers {
			t.Errorf("[TestNew(%s)]: Workers() == %d, want %d", test.name, e.Workers(), test.workers)
		}
		e.Close()
	}
}

func TestExecuteOnOrderAndIdentity(t *testing.T) {
	ctx := t.Context()
	e, err := New(ctx, "order", 3)
	if err != nil {
		t.Fatalf("[TestExecuteOnOrderAndIdentity]: New: %s", err)
	}
	defer e.Close()

	var (
		mu   stdsync.Mutex
		got  []int
		seen = map[WorkerID]bool{}
	)
	for i := range 50 {
		err := e.ExecuteOn(ctx, 2, func(ctx context.Context) {
			id, ok := CurrentWorker(ctx)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				seen[id.ID()] = true
			}
			got = append(got, i)
		})
		if err != nil {
			t.Fatalf("[TestExecuteOnOrderAndIdentity]: ExecuteOn: %s", err)
		}
	}
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("[TestExecuteOnOrderAndIdentity]: Sync: %s", err)
	}

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("[TestExecuteOnOrderAndIdentity]: order: -want +got:\n%s", diff)
	}
	if diff := pretty.Compare(map[WorkerID]bool{2: true}, seen); diff != "" {
		t.Errorf("[TestExecuteOnOrderAndIdentity]: workers: -want +got:\n%s", diff)
	}
}

func TestExecuteRoundRobin(t *testing.T) {
	ctx := t.Context()
	e, err := New(ctx, "rr", 4)
	if err != nil {
		t.Fatalf("[TestExecuteRoundRobin]: New: %s", err)
	}
	defer e.Close()

	var (
		mu   stdsync.Mutex
		seen = map[WorkerID]int{}
	)
	for range 8 {
		if err := e.Execute(ctx, func(ctx context.Context) {
			id, _ := CurrentWorker(ctx)
			mu.Lock()
			seen[id.ID()]++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("[TestExecuteRoundRobin]: Execute: %s", err)
		}
	}
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("[TestExecuteRoundRobin]: Sync: %s", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := map[WorkerID]int{0: 2, 1: 2, 2: 2, 3: 2}
	if diff := pretty.Compare(want, seen); diff != "" {
		t.Errorf("[TestExecuteRoundRobin]: -want +got:\n%s", diff)
	}
}

func TestSyncWaitsForQueuedWork(t *testing.T) {
	ctx := t.Context()
	e, err := New(ctx, "sync", 2)
	if err != nil {
		t.Fatalf("[TestSyncWaitsForQueuedWork]: New: %s", err)
	}
	defer e.Close()

	done := make(chan struct{})
	if err := e.ExecuteOn(ctx, 1, func(context.Context) {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}); err != nil {
		t.Fatalf("[TestSyncWaitsForQueuedWork]: ExecuteOn: %s", err)
	}
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("[TestSyncWaitsForQueuedWork]: Sync: %s", err)
	}
	select {
	case <-done:
	default:
		t.Errorf("[TestSyncWaitsForQueuedWork]: Sync returned before queued work ran")
	}
}

func TestCurrentWorkerOutsideExecutor(t *testing.T) {
	if id, ok := CurrentWorker(t.Context()); ok || !id.IsZero() {
		t.Errorf("[TestCurrentWorkerOutsideExecutor]: got (%s, %v), want (<none>, false)", id, ok)
	}
}

func TestClose(t *testing.T) {
	ctx := t.Context()
	e, err := New(ctx, "close", 2)
	if err != nil {
		t.Fatalf("[TestClose]: New: %s", err)
	}

	ran := make(chan struct{}, 1)
	if err := e.ExecuteOn(ctx, 0, func(context.Context) { ran <- struct{}{} }); err != nil {
		t.Fatalf("[TestClose]: ExecuteOn: %s", err)
	}
	e.Close()
	e.Close()

	select {
	case <-ran:
	default:
		t.Errorf("[TestClose]: queued task did not run before Close returned")
	}

	err = e.Execute(ctx, func(context.Context) {})
	if !errors.Is(err, ErrShutdown) {
		t.Errorf("[TestClose]: Execute after Close: got err == %v, want ErrShutdown", err)
	}
	if err := e.ExecuteOn(ctx, 5, func(context.Context) {}); err == nil {
		t.Errorf("[TestClose]: ExecuteOn with bad worker: got err == nil, want err != nil")
	}
}
