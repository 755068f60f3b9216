package pool

import (
	"sync/atomic"

	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/executor"
	"github.com/omaskery/tasklog/pkg/registry"
)

// nextTaskID is shared by every pool so task ids are unique within the process, events.RootTask excluded
var nextTaskID atomic.Uint64

func newTaskID() events.TaskID {
	return events.TaskID(nextTaskID.Add(1))
}

// Context identifies the worker running the current task and the log it records into. Each closure
// handed to the recording primitives receives the context of the worker executing it; a context must
// not be used from another goroutine.
type Context struct {
	pool   *ThreadPool
	worker *executor.Worker
	thread *registry.Thread
}

// ThreadIndex is the index of the recording thread in the pool's registry
func (c *Context) ThreadIndex() int {
	return c.thread.Index()
}

// Pool returns the pool the context belongs to
func (c *Context) Pool() *ThreadPool {
	return c.pool
}

func (c *Context) now() events.Timestamp {
	return c.pool.clock()
}

func (c *Context) record(e events.Event) {
	c.thread.Record(e)
}

// switchTask ends the active task and starts next in its place
func (c *Context) switchTask(next events.TaskID) {
	c.record(events.TaskEnd(c.now()))
	c.record(events.TaskStart(next, c.now()))
}

// runTask brackets op as task id, then declares next as its successor
func runTask[R any](c *Context, id, next events.TaskID, op func(ctx *Context) R) R {
	c.record(events.TaskStart(id, c.now()))
	result := op(c)
	c.record(events.Child(next))
	c.record(events.TaskEnd(c.now()))
	return result
}

// LogWork attributes amount of tag work to the active task without opening a subgraph
func (c *Context) LogWork(tag string, amount uint64) {
	c.record(events.Work(tag, amount))
}
