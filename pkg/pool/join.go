package pool

import (
	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/executor"
)

// FnContext tells a joined closure how it was scheduled
type FnContext struct {
	migrated bool
}

// Migrated reports whether the closure runs on another worker than the one that forked it
func (f FnContext) Migrated() bool {
	return f.migrated
}

// Join runs a and b, potentially in parallel, and returns both results.
//
// The active task ends with a and b as children. Each closure runs as its own task whose child is a
// continuation task, which becomes the active task once both returned.
func Join[RA, RB any](ctx *Context, a func(ctx *Context) RA, b func(ctx *Context) RB) (RA, RB) {
	return JoinContext(ctx,
		func(ctx *Context, _ FnContext) RA { return a(ctx) },
		func(ctx *Context, _ FnContext) RB { return b(ctx) },
	)
}

// JoinContext is Join with closures also told whether they migrated
func JoinContext[RA, RB any](ctx *Context, a func(ctx *Context, fc FnContext) RA, b func(ctx *Context, fc FnContext) RB) (RA, RB) {
	continuation, idA, idB := newTaskID(), newTaskID(), newTaskID()
	ctx.record(events.Child(idA))
	ctx.record(events.Child(idB))
	ctx.record(events.TaskEnd(ctx.now()))

	var ra RA
	var rb RB
	ctx.worker.Join(
		func(w *executor.Worker, migrated bool) {
			ra = runTask(ctx.pool.context(w), idA, continuation, func(c *Context) RA {
				return a(c, FnContext{migrated: migrated})
			})
		},
		func(w *executor.Worker, migrated bool) {
			rb = runTask(ctx.pool.context(w), idB, continuation, func(c *Context) RB {
				return b(c, FnContext{migrated: migrated})
			})
		},
	)

	ctx.record(events.TaskStart(continuation, ctx.now()))
	return ra, rb
}
