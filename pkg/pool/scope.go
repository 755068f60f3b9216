package pool

import (
	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/executor"
)

// Scope lets a task spawn any number of tasks, all completed before the scope returns
type Scope struct {
	ctx          *Context
	inner        *executor.Scope
	continuation events.TaskID
}

// Context returns the context of the task owning the scope handle
func (s *Scope) Context() *Context {
	return s.ctx
}

// Scope runs op in a new task and waits for it and everything it spawned. Every spawned task has the
// scope's continuation as child, so the task resuming after Scope depends on all of them.
func (c *Context) Scope(op func(s *Scope)) {
	scopeID, continuation := newTaskID(), newTaskID()
	c.record(events.Child(scopeID))
	c.record(events.TaskEnd(c.now()))

	c.worker.Scope(func(w *executor.Worker, inner *executor.Scope) {
		runTask(c.pool.context(w), scopeID, continuation, func(ctx *Context) struct{} {
			op(&Scope{ctx: ctx, inner: inner, continuation: continuation})
			return struct{}{}
		})
	})

	c.record(events.TaskStart(continuation, c.now()))
}

// Spawn queues body as a new task of the scope. The spawning task ends and a sequential task resumes
// after the spawn. Spawn must be called by the task owning s.
func (s *Scope) Spawn(body func(s *Scope)) {
	spawned, sequel := newTaskID(), newTaskID()
	c := s.ctx
	c.record(events.Child(spawned))
	c.record(events.Child(sequel))

	s.inner.Spawn(c.worker, func(w *executor.Worker) {
		runTask(c.pool.context(w), spawned, s.continuation, func(ctx *Context) struct{} {
			body(&Scope{ctx: ctx, inner: s.inner, continuation: s.continuation})
			return struct{}{}
		})
	})

	c.switchTask(sequel)
}
