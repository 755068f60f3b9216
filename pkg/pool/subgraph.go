package pool

import (
	"github.com/omaskery/tasklog/pkg/events"
)

// Subgraph runs op in a fresh task tagged with tag, declaring amount units of work for it
func Subgraph[R any](ctx *Context, tag string, amount uint64, op func(ctx *Context) R) R {
	return CustomSubgraph(ctx, tag,
		func() struct{} { return struct{}{} },
		func(struct{}) uint64 { return amount },
		op,
	)
}

// CustomSubgraph is Subgraph with the amount of work measured: start is called right before op and its
// result handed to end right after, end returning the amount
func CustomSubgraph[S, R any](ctx *Context, tag string, start func() S, end func(S) uint64, op func(ctx *Context) R) R {
	opening := newTaskID()
	ctx.record(events.Child(opening))
	ctx.switchTask(opening)
	ctx.record(events.SubgraphStart(tag))

	measure := start()
	result := op(ctx)
	amount := end(measure)

	closing := newTaskID()
	ctx.record(events.SubgraphEnd(tag, amount))
	ctx.record(events.Child(closing))
	ctx.switchTask(closing)
	return result
}
