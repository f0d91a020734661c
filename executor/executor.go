// Package executor provides a multi-worker task executor where every worker owns a
// FIFO queue.
//
// Tasks receive a context that names the worker running them, so code running on a
// worker can find out which one it is with CurrentWorker. Execute spreads tasks over
// the workers round-robin, ExecuteOn queues onto one chosen worker and Sync waits
// for everything queued so far.
package executor

import (
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/errors"
	"github.com/bearlytools/mbus/gate"
)

// ErrShutdown is returned when submitting to an Executor that has been closed.
var ErrShutdown = errors.New("executor is shut down")

// WorkerID is the index of a worker inside its Executor.
type WorkerID int

// Task is a unit of work. ctx carries the identity of the worker running it.
type Task func(ctx context.Context)

// Identity names one worker of one Executor. The zero value names no worker.
type Identity struct {
	exec *Executor
	id   WorkerID
}

// ID returns the worker's index inside its executor.
func (i Identity) ID() WorkerID {
	return i.id
}

// IsZero reports if i names no worker.
func (i Identity) IsZero() bool {
	return i.exec == nil
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	if i.exec == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s/%d", i.exec.name, i.id)
}

type workerKey struct{}

// CurrentWorker returns the worker that is running the task ctx was handed to.
// It returns false when ctx did not come from an executor task. Contexts derived
// from a task's context carry the same worker, so they must stay on the task's
// goroutine.
func CurrentWorker(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(workerKey{}).(Identity)
	return id, ok
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// Executor runs tasks on a fixed set of workers.
type Executor struct {
	name    string
	log     *slog.Logger
	workers []*worker
	next    atomic.Uint64

	mu     sync.Mutex
	closed bool

	running stdsync.WaitGroup
}

// New starts an executor with n workers. Worker goroutines are taken from
// context.Pool(ctx) and live until Close is called.
func New(ctx context.Context, name string, n int, opts ...Option) (*Executor, error) {
	if n < 1 {
		return nil, errors.E(ctx, errors.CatUser, errors.TypeParameter, fmt.Errorf("executor %q: need at least 1 worker, got %d", name, n))
	}

	e := &Executor{
		name:    name,
		log:     slog.Default(),
		workers: make([]*worker, n),
	}
	for _, o := range opts {
		o(e)
	}

	pool := context.Pool(ctx)
	for i := range e.workers {
		w := newWorker()
		e.workers[i] = w

		wctx := context.WithValue(ctx, workerKey{}, Identity{exec: e, id: WorkerID(i)})
		e.running.Add(1)
		pool.Submit(ctx, func() {
			defer e.running.Done()
			e.log.Debug("executor worker started", "executor", name, "worker", i)
			w.loop(wctx)
			e.log.Debug("executor worker stopped", "executor", name, "worker", i)
		})
	}
	return e, nil
}

// Name returns the name given to New.
func (e *Executor) Name() string {
	return e.name
}

// Workers returns the number of workers.
func (e *Executor) Workers() int {
	return len(e.workers)
}

// Execute queues task on the next worker in round-robin order.
func (e *Executor) Execute(ctx context.Context, task Task) error {
	n := e.next.Add(1) - 1
	return e.ExecuteOn(ctx, WorkerID(n%uint64(len(e.workers))), task)
}

// ExecuteOn queues task on worker id. Tasks queued on the same worker run in the
// order they were queued.
func (e *Executor) ExecuteOn(ctx context.Context, id WorkerID, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id < 0 || int(id) >= len(e.workers) {
		return errors.E(ctx, errors.CatUser, errors.TypeParameter, fmt.Errorf("executor %q has no worker %d", e.name, id))
	}
	if !e.workers[id].push(task) {
		return fmt.Errorf("executor %q: %w", e.name, ErrShutdown)
	}
	return nil
}

// Sync blocks until every task queued before the call has run. It must not be
// called from a task of this executor.
func (e *Executor) Sync(ctx context.Context) error {
	gates := make([]*gate.Gate, len(e.workers))
	for i := range e.workers {
		g := gate.New()
		gates[i] = g
		if err := e.ExecuteOn(ctx, WorkerID(i), func(context.Context) { g.CountDown() }); err != nil {
			return err
		}
	}
	for _, g := range gates {
		if err := g.Await(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting tasks, lets the workers drain their queues and waits for
// them to exit. It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.running.Wait()
		return
	}
	e.closed = true
	e.mu.Unlock()

	for _, w := range e.workers {
		w.close()
	}
	e.running.Wait()
}

// worker is a FIFO queue served by one goroutine.
type worker struct {
	mu     stdsync.Mutex
	cond   *stdsync.Cond
	queue  []Task
	closed bool
}

func newWorker() *worker {
	w := &worker{}
	w.cond = stdsync.NewCond(&w.mu)
	return w
}

func (w *worker) push(t Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, t)
	w.cond.Signal()
	return true
}

func (w *worker) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *worker) loop(ctx context.Context) {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		t(ctx)
	}
}
