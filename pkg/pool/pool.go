// pool runs fork-join computations on a work stealing executor while recording every task they spawn
package pool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/executor"
	"github.com/omaskery/tasklog/pkg/rawlog"
	"github.com/omaskery/tasklog/pkg/registry"
	"github.com/omaskery/tasklog/pkg/runlog"
)

type Option = func(p *ThreadPool)

type Clock = func() events.Timestamp

// WithNumThreads sets the number of workers, defaulting to GOMAXPROCS
func WithNumThreads(n int) Option {
	return func(p *ThreadPool) {
		p.numThreads = n
	}
}

// WithLogsFilename makes Close save the raw logs to path
func WithLogsFilename(path string) Option {
	return func(p *ThreadPool) {
		p.logsFilename = path
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(p *ThreadPool) {
		p.logger = logger
	}
}

// WithClock replaces the timestamp source, events.Now by default
func WithClock(clock Clock) Option {
	return func(p *ThreadPool) {
		p.clock = clock
	}
}

// ThreadPool is a fixed set of workers, each recording into its own log of the pool's registry
type ThreadPool struct {
	numThreads   int
	logsFilename string
	logger       logr.Logger
	clock        Clock

	registry *registry.Registry
	executor *executor.Pool
	// contexts is indexed by worker index, each entry is written once by its worker before it runs jobs
	contexts []*Context
	// runs excludes plain installs while a logging install resets the logs
	runs sync.RWMutex
}

// New starts the workers and waits until each of them registered its log
func New(options ...Option) (*ThreadPool, error) {
	p := &ThreadPool{
		numThreads: runtime.GOMAXPROCS(0),
		logger:     logr.Discard(),
		clock:      events.Now,
		registry:   registry.New(),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.numThreads < 1 {
		return nil, fmt.Errorf("%w: %d threads", executor.ErrInvalidWorkerCount, p.numThreads)
	}

	p.contexts = make([]*Context, p.numThreads)
	var started sync.WaitGroup
	started.Add(p.numThreads)
	exec, err := executor.New(p.numThreads,
		executor.WithLogger(p.logger.WithName("executor")),
		executor.WithStartHandler(func(index int) {
			thread := p.registry.Register()
			p.contexts[index] = &Context{pool: p, thread: thread}
			p.logger.V(1).Info("worker registered", "worker", index, "thread", thread.Index())
			started.Done()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start executor: %w", err)
	}
	started.Wait()
	for i, c := range p.contexts {
		c.worker = exec.Worker(i)
	}
	p.executor = exec

	return p, nil
}

// NumThreads returns the number of workers
func (p *ThreadPool) NumThreads() int {
	return p.numThreads
}

func (p *ThreadPool) context(w *executor.Worker) *Context {
	return p.contexts[w.Index()]
}

// Install runs op on the pool, as a task of its own, and returns its result. A panic in op is re-raised.
//
// op must not call Install or LoggingInstall on the same pool: the call would wait for a worker or for
// the run lock held by op itself and never return. Nested parallel work goes through the *Context op
// receives (Join, Scope, Subgraph).
func Install[R any](p *ThreadPool, op func(ctx *Context) R) R {
	p.runs.RLock()
	defer p.runs.RUnlock()

	var result R
	p.executor.Install(func(w *executor.Worker) {
		ctx := p.context(w)
		ctx.record(events.TaskStart(newTaskID(), ctx.now()))
		result = op(ctx)
		ctx.record(events.TaskEnd(ctx.now()))
	})
	return result
}

// LoggingInstall clears every log, runs op as the root task and reconstructs the resulting trace.
// Logging installs are serialised with every other install of the pool. As with Install, op must not
// re-enter the pool and uses its *Context for every nested computation.
func LoggingInstall[R any](p *ThreadPool, op func(ctx *Context) R) (R, *runlog.RunLog, error) {
	p.runs.Lock()
	defer p.runs.Unlock()

	var result R
	p.executor.Install(func(w *executor.Worker) {
		ctx := p.context(w)
		p.registry.Reset(ctx.thread, ctx.now())
		result = op(ctx)
		ctx.record(events.TaskEnd(ctx.now()))
	})

	log, err := runlog.Reconstruct(rawlog.FromRegistry(p.registry))
	if err != nil {
		p.logger.Error(err, "failed to reconstruct run")
		return result, nil, fmt.Errorf("failed to reconstruct run: %w", err)
	}
	p.logger.V(1).Info("run reconstructed", "tasks", len(log.Tasks), "duration", log.Duration)
	return result, log, nil
}

// RawLogs snapshots the current content of every log
func (p *ThreadPool) RawLogs() *rawlog.RawLogs {
	p.runs.Lock()
	defer p.runs.Unlock()
	return rawlog.FromRegistry(p.registry)
}

// SaveRawLogs writes the current content of every log to path
func (p *ThreadPool) SaveRawLogs(path string) error {
	if err := p.RawLogs().Save(path); err != nil {
		return fmt.Errorf("failed to save raw logs: %w", err)
	}
	p.logger.V(1).Info("saved raw logs", "path", path)
	return nil
}

// Close stops the workers, then saves the raw logs when a logs filename was configured
func (p *ThreadPool) Close() error {
	var result *multierror.Error
	if err := p.executor.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to stop executor: %w", err))
	}
	if p.logsFilename != "" {
		if err := p.SaveRawLogs(p.logsFilename); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
