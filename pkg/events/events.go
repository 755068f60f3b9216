// events provides the compact representation of everything the instrumented primitives record
package events

import (
	"fmt"
	"sync"
	"time"
)

// Kind is the discriminator for identifying the type of a recorded event, its values are also the
// one byte discriminants of the raw log file format
type Kind uint8

const (
	KindTaskStart     Kind = 2
	KindTaskEnd       Kind = 3
	KindChild         Kind = 4
	KindSubgraphStart Kind = 5
	KindSubgraphEnd   Kind = 6
	KindWork          Kind = 7
)

// Valid reports whether k belongs to the closed set of known event kinds
func (k Kind) Valid() bool {
	return k >= KindTaskStart && k <= KindWork
}

func (k Kind) String() string {
	switch k {
	case KindTaskStart:
		return "TaskStart"
	case KindTaskEnd:
		return "TaskEnd"
	case KindChild:
		return "Child"
	case KindSubgraphStart:
		return "SubgraphStart"
	case KindSubgraphEnd:
		return "SubgraphEnd"
	case KindWork:
		return "Work"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// TaskID uniquely identifies a task within a process, ids come from a single atomic counter
type TaskID uint64

// RootTask is the id reserved for the initial task of a logged run
const RootTask TaskID = 0

// Timestamp is a number of nanoseconds since the process wide epoch
type Timestamp uint64

// Event is one recorded occurrence. It is a plain value so that pushing it never allocates;
// only the fields relevant to its Kind are set, all others are left at their zero value.
type Event struct {
	// Kind says which of the other fields are meaningful
	Kind Kind
	// Task is the started task for TaskStart, or the child task for Child
	Task TaskID
	// Time is set on TaskStart and TaskEnd
	Time Timestamp
	// Tag labels the work of SubgraphStart, SubgraphEnd and Work events
	Tag string
	// Amount is the measured work of SubgraphEnd and Work events
	Amount uint64
}

// TaskStart records that the given task starts running on the recording thread
func TaskStart(id TaskID, at Timestamp) Event {
	return Event{Kind: KindTaskStart, Task: id, Time: at}
}

// TaskEnd records that the task active on the recording thread stops
func TaskEnd(at Timestamp) Event {
	return Event{Kind: KindTaskEnd, Time: at}
}

// Child records a graph edge from the active task to the given one
func Child(id TaskID) Event {
	return Event{Kind: KindChild, Task: id}
}

// SubgraphStart opens a tagged span of execution
func SubgraphStart(tag string) Event {
	return Event{Kind: KindSubgraphStart, Tag: tag}
}

// SubgraphEnd closes the innermost tagged span, registering how much work it did
func SubgraphEnd(tag string, amount uint64) Event {
	return Event{Kind: KindSubgraphEnd, Tag: tag, Amount: amount}
}

// Work annotates the active task with an amount of work without opening a span
func Work(tag string, amount uint64) Event {
	return Event{Kind: KindWork, Tag: tag, Amount: amount}
}

// Timed reports whether the event carries a timestamp
func (e Event) Timed() bool {
	return e.Kind == KindTaskStart || e.Kind == KindTaskEnd
}

func (e Event) String() string {
	switch e.Kind {
	case KindTaskStart:
		return fmt.Sprintf("TaskStart(%d, %d)", e.Task, e.Time)
	case KindTaskEnd:
		return fmt.Sprintf("TaskEnd(%d)", e.Time)
	case KindChild:
		return fmt.Sprintf("Child(%d)", e.Task)
	case KindSubgraphStart:
		return fmt.Sprintf("SubgraphStart(%q)", e.Tag)
	case KindSubgraphEnd:
		return fmt.Sprintf("SubgraphEnd(%q, %d)", e.Tag, e.Amount)
	case KindWork:
		return fmt.Sprintf("Work(%q, %d)", e.Tag, e.Amount)
	}
	return e.Kind.String()
}

var (
	epochOnce sync.Once
	epoch     time.Time
)

// Now returns the number of nanoseconds elapsed since the epoch, which is captured on first use.
// The monotonic clock is used so timestamps of all threads are comparable.
func Now() Timestamp {
	epochOnce.Do(func() {
		epoch = time.Now()
	})
	return Timestamp(time.Since(epoch))
}
