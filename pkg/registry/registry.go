// registry keeps the per thread event logs of every worker that ever recorded something
package registry

import (
	"runtime"
	"sync/atomic"

	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/storage"
)

// Thread is the recording identity of one worker: a dense index and the log only it writes to
type Thread struct {
	index int
	log   *storage.Storage[events.Event]
}

// Index is the position of the thread in registration order, indices are dense starting at 0
func (t *Thread) Index() int {
	return t.index
}

// Log is the thread's event log, only the thread itself may push into it
func (t *Thread) Log() *storage.Storage[events.Event] {
	return t.log
}

// Record appends an event to the thread's log
func (t *Thread) Record(e events.Event) {
	t.log.Push(e)
}

// Registry is an append only, order preserving directory of threads. Registrations are serialised by
// index: a thread only publishes itself once every thread with a smaller index did.
type Registry struct {
	assigned   atomic.Int64
	registered atomic.Int64
	threads    atomic.Pointer[[]*Thread]
}

// New creates an empty registry
func New() *Registry {
	r := &Registry{}
	empty := []*Thread{}
	r.threads.Store(&empty)
	return r
}

// Register allocates the next thread index and publishes a fresh log for it. It spins until all
// threads with smaller indices are published, so enumerating the registry never shows gaps.
func (r *Registry) Register() *Thread {
	index := r.assigned.Add(1) - 1
	for r.registered.Load() != index {
		runtime.Gosched()
	}

	t := &Thread{
		index: int(index),
		log:   storage.New[events.Event](),
	}
	for {
		old := r.threads.Load()
		next := make([]*Thread, len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, t)
		if r.threads.CompareAndSwap(old, &next) {
			break
		}
	}
	r.registered.Add(1)
	return t
}

// Threads returns a snapshot of every registered thread ordered by index
func (r *Registry) Threads() []*Thread {
	return *r.threads.Load()
}

// Len returns the number of registered threads
func (r *Registry) Len() int {
	return len(*r.threads.Load())
}

// Reset empties every registered log. When root is not nil a TaskStart for events.RootTask is pushed
// into its log so the next run starts with an active task. No thread may be recording meanwhile.
func (r *Registry) Reset(root *Thread, at events.Timestamp) {
	for _, t := range r.Threads() {
		t.log.Reset()
	}
	if root != nil {
		root.Record(events.TaskStart(events.RootTask, at))
	}
}
