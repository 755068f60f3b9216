// executor is a small work stealing thread pool providing the fork-join primitives the recorder wraps.
//
// Every worker owns a deque: it pushes and pops forked jobs at the bottom while idle workers steal from
// the top. A worker waiting for a forked job keeps executing other jobs until the awaited one completes,
// so nested forks never exhaust the fixed set of workers.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidWorkerCount = errors.New("invalid number of workers")
	ErrClosed             = errors.New("executor is closed")
)

// idlePoll bounds how long an idle worker sleeps when it missed a wake up
const idlePoll = time.Millisecond

type Option = func(p *Pool)

// WithStartHandler registers a function each worker runs, on its own goroutine, before executing any job
func WithStartHandler(handler func(index int)) Option {
	return func(p *Pool) {
		p.startHandler = handler
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool is a fixed set of workers executing forked jobs
type Pool struct {
	workers      []*Worker
	injector     queue
	wake         chan struct{}
	group        *errgroup.Group
	cancel       context.CancelFunc
	startHandler func(index int)
	logger       logr.Logger
	// mu orders injections against Close: a job injected before closed is set is always executed
	mu     sync.Mutex
	closed bool
}

// New starts a pool of numWorkers workers
func New(numWorkers int, options ...Option) (*Pool, error) {
	if numWorkers < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, numWorkers)
	}

	p := &Pool{
		wake:   make(chan struct{}, numWorkers),
		logger: logr.Discard(),
	}
	for _, opt := range options {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	p.group = group
	p.cancel = cancel

	p.workers = make([]*Worker, numWorkers)
	for i := range p.workers {
		p.workers[i] = &Worker{index: i, pool: p}
	}
	for _, w := range p.workers {
		w := w
		group.Go(func() error {
			w.run(ctx)
			return nil
		})
	}

	return p, nil
}

// NumWorkers returns the fixed number of workers of the pool
func (p *Pool) NumWorkers() int {
	return len(p.workers)
}

// Worker returns the worker with the given index
func (p *Pool) Worker(index int) *Worker {
	return p.workers[index]
}

// Install runs op on one of the workers and blocks until it, and everything it forked, returned.
// A panic in op is re-raised in the caller.
//
// Install must not be called from a job of the same pool: the calling worker would block waiting for a
// job that may only be runnable by itself. Jobs fork through their Worker instead.
func (p *Pool) Install(op func(w *Worker)) {
	j := &job{
		run:      op,
		finished: make(chan struct{}),
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic(ErrClosed)
	}
	p.injector.push(j)
	p.mu.Unlock()
	p.notify()
	<-j.finished
	if j.panicked != nil {
		panic(j.panicked.value)
	}
}

// Close stops every worker once it is idle and waits for them to exit. Jobs installed before Close
// still run to completion.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	return p.group.Wait()
}

func (p *Pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Worker is one thread of execution of the pool
type Worker struct {
	index int
	pool  *Pool
	deque queue
}

// Index identifies the worker within its pool, from 0 to NumWorkers()-1
func (w *Worker) Index() int {
	return w.index
}

func (w *Worker) run(ctx context.Context) {
	if w.pool.startHandler != nil {
		w.pool.startHandler(w.index)
	}
	w.pool.logger.V(1).Info("worker started", "index", w.index)
	defer w.pool.logger.V(1).Info("worker stopped", "index", w.index)

	timer := time.NewTimer(idlePoll)
	defer timer.Stop()
	for {
		if j := w.findWork(); j != nil {
			j.execute(w)
			continue
		}
		timer.Reset(idlePoll)
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-w.pool.wake:
		case <-timer.C:
		}
	}
}

// drain executes whatever is still queued, no new job can be injected once the pool is closed
func (w *Worker) drain() {
	for j := w.findWork(); j != nil; j = w.findWork() {
		j.execute(w)
	}
}

func (w *Worker) push(j *job) {
	w.deque.push(j)
	w.pool.notify()
}

// findWork looks at the worker's own deque first, then steals from the others, then takes injected jobs
func (w *Worker) findWork() *job {
	if j := w.deque.popBack(); j != nil {
		return j
	}
	workers := w.pool.workers
	for i := 1; i < len(workers); i++ {
		victim := workers[(w.index+i)%len(workers)]
		if j := victim.deque.popFront(); j != nil {
			return j
		}
	}
	return w.pool.injector.popFront()
}

// waitUntil executes available jobs until done reports true
func (w *Worker) waitUntil(done func() bool) {
	for !done() {
		if j := w.findWork(); j != nil {
			j.execute(w)
		} else {
			runtimeYield()
		}
	}
}

// Join runs a on the current worker while b is offered to thieves, and returns once both completed.
// Each closure is told whether it runs on another worker than the one that forked it.
// Both closures always run; a panic of either is re-raised after both completed, a's first.
func (w *Worker) Join(a, b func(w *Worker, migrated bool)) {
	jb := &job{}
	jb.run = func(x *Worker) {
		b(x, x != w)
	}
	w.push(jb)

	pa := catch(func() {
		a(w, false)
	})

	if w.deque.popBackIf(jb) {
		jb.execute(w)
	} else {
		w.waitUntil(jb.done.Load)
	}

	if pa != nil {
		panic(pa.value)
	}
	if jb.panicked != nil {
		panic(jb.panicked.value)
	}
}

// Scope runs op with a scope into which jobs can be spawned, and returns once op and every spawned job
// completed. The first panic, of op or of a spawned job, is re-raised.
func (w *Worker) Scope(op func(w *Worker, s *Scope)) {
	s := &Scope{}
	po := catch(func() {
		op(w, s)
	})
	w.waitUntil(s.idle)

	if po != nil {
		panic(po.value)
	}
	if ps := s.firstPanic(); ps != nil {
		panic(ps.value)
	}
}

// Scope tracks jobs spawned by a Worker.Scope call
type Scope struct {
	pending  atomic.Int64
	mu       sync.Mutex
	panicked *panicked
}

// Spawn queues body on the deque of from, which must be the worker calling Spawn. body receives the
// worker that eventually runs it.
func (s *Scope) Spawn(from *Worker, body func(w *Worker)) {
	s.pending.Add(1)
	j := &job{}
	j.run = func(x *Worker) {
		defer s.pending.Add(-1)
		if p := catch(func() { body(x) }); p != nil {
			s.recordPanic(p)
		}
	}
	from.push(j)
}

func (s *Scope) idle() bool {
	return s.pending.Load() == 0
}

func (s *Scope) recordPanic(p *panicked) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicked == nil {
		s.panicked = p
	}
}

func (s *Scope) firstPanic() *panicked {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panicked
}
