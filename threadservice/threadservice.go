// Package threadservice runs tasks on one fixed worker of a shared executor.
//
// A Service samples, once, which worker of the executor a probe task lands on and
// from then on pins all work handed to Run onto that worker. Callers can use it to
// serialize work that must never run concurrently with other work on that worker,
// without knowing anything about the executor's internals.
package threadservice

import (
	"fmt"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/errors"
	"github.com/bearlytools/mbus/executor"
	"github.com/bearlytools/mbus/gate"
)

// Executor is the part of executor.Executor a Service needs.
type Executor interface {
	// Execute queues a task on any worker.
	Execute(ctx context.Context, task executor.Task) error
	// ExecuteOn queues a task on a specific worker, FIFO with other tasks on it.
	ExecuteOn(ctx context.Context, id executor.WorkerID, task executor.Task) error
	// Sync waits until all work queued before the call has run.
	Sync(ctx context.Context) error
}

// Service runs tasks on one worker of an Executor. It holds no lock: the worker
// identity is written once in New and only read afterwards.
type Service struct {
	exec   Executor
	worker executor.Identity
}

// New binds a Service to the worker that a probe task submitted to exec runs on.
// The executor must outlive the Service; the Service never closes it.
func New(ctx context.Context, exec Executor) (*Service, error) {
	var sampled executor.Identity
	probe := func(ctx context.Context) {
		sampled, _ = executor.CurrentWorker(ctx)
	}
	if err := exec.Execute(ctx, probe); err != nil {
		return nil, fmt.Errorf("could not submit worker probe: %w", err)
	}
	// Sync orders the probe's write to sampled before our read.
	if err := exec.Sync(ctx); err != nil {
		return nil, fmt.Errorf("could not sync executor after worker probe: %w", err)
	}
	if sampled.IsZero() {
		return nil, errors.E(ctx, errors.CatInternal, errors.TypeBug, errors.New("executor did not attach a worker identity to the probe task"))
	}
	return &Service{exec: exec, worker: sampled}, nil
}

// Worker returns the worker this Service is bound to.
func (s *Service) Worker() executor.Identity {
	return s.worker
}

// IsCurrentThread reports if ctx belongs to a task running on the bound worker.
// The answer comes from the worker identity ctx carries, not from the calling
// goroutine: a task must not hand its context, or one derived from it, to
// goroutines it starts, or they pass this check too.
func (s *Service) IsCurrentThread(ctx context.Context) bool {
	cur, ok := executor.CurrentWorker(ctx)
	return ok && cur == s.worker
}

// Run executes task on the bound worker exactly once and returns after it finished.
//
// If ctx already belongs to the bound worker, task runs inline. Otherwise it is
// queued behind everything already queued on that worker and Run waits for it.
// The task is handed the worker's context in both cases. Only the worker's own
// goroutine may call Run with the worker's context, see IsCurrentThread; any
// other goroutine holding it would run task inline, off the worker.
//
// Run returns an error only if the executor refuses the task. Once accepted, Run
// waits for the task even if ctx is canceled.
func (s *Service) Run(ctx context.Context, task executor.Task) error {
	if s.IsCurrentThread(ctx) {
		task(ctx)
		return nil
	}

	g := gate.New()
	err := s.exec.ExecuteOn(ctx, s.worker.ID(), func(wctx context.Context) {
		task(wctx)
		g.CountDown()
	})
	if err != nil {
		return err
	}
	<-g.Done()
	return nil
}
