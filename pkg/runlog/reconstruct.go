package runlog

import (
	"container/heap"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/slices"

	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/rawlog"
)

// cursor points at the next unmerged event of a thread
type cursor struct {
	thread int
	pos    int
	// time orders the cursor, untimed events take the last timestamp seen on their thread
	time events.Timestamp
}

// mergeHeap orders cursors by time then by thread index
type mergeHeap []cursor

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].thread < h[j].thread
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(cursor)) }
func (h *mergeHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

type pendingTask struct {
	start    events.Timestamp
	end      events.Timestamp
	ended    bool
	thread   int
	children []events.TaskID
	work     WorkInfo
}

type pendingSubgraph struct {
	start  events.TaskID
	end    events.TaskID
	label  rawlog.LabelID
	amount uint64
	closed bool
}

// reconstructor holds the merge state of one Reconstruct call
type reconstructor struct {
	raw   *rawlog.RawLogs
	tasks map[events.TaskID]*pendingTask
	// active is, per thread, the stack of started and not yet ended tasks
	active [][]events.TaskID
	// open is, per thread, the stack of indices into subgraphs not yet closed
	open      [][]int
	subgraphs []pendingSubgraph
	errs      *multierror.Error
}

// Reconstruct merges the per thread logs by timestamp and links tasks into a RunLog. Every consistency
// violation found is reported, each wrapping ErrReconstruction; no partial log is returned.
func Reconstruct(raw *rawlog.RawLogs) (*RunLog, error) {
	r := &reconstructor{
		raw:    raw,
		tasks:  map[events.TaskID]*pendingTask{},
		active: make([][]events.TaskID, len(raw.ThreadEvents)),
		open:   make([][]int, len(raw.ThreadEvents)),
	}
	r.merge()
	r.checkComplete()
	if err := r.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r.build(), nil
}

func (r *reconstructor) fail(format string, args ...any) {
	r.errs = multierror.Append(r.errs, fmt.Errorf("%w: %s", ErrReconstruction, fmt.Sprintf(format, args...)))
}

func (r *reconstructor) merge() {
	last := make([]events.Timestamp, len(r.raw.ThreadEvents))
	timeOf := func(thread, pos int) events.Timestamp {
		e := r.raw.ThreadEvents[thread][pos]
		if e.Kind == events.KindTaskStart || e.Kind == events.KindTaskEnd {
			return e.Time
		}
		return last[thread]
	}

	h := &mergeHeap{}
	for thread, log := range r.raw.ThreadEvents {
		if len(log) > 0 {
			heap.Push(h, cursor{thread: thread, time: timeOf(thread, 0)})
		}
	}
	for h.Len() > 0 {
		c := heap.Pop(h).(cursor)
		log := r.raw.ThreadEvents[c.thread]
		last[c.thread] = c.time
		r.apply(c.thread, log[c.pos])
		if next := c.pos + 1; next < len(log) {
			heap.Push(h, cursor{thread: c.thread, pos: next, time: timeOf(c.thread, next)})
		}
	}
}

// current returns the task active on thread, reporting an error naming what needed it when there is none
func (r *reconstructor) current(thread int, what events.Event) (*pendingTask, events.TaskID, bool) {
	stack := r.active[thread]
	if len(stack) == 0 {
		r.fail("%v on thread %d with no active task", what, thread)
		return nil, 0, false
	}
	id := stack[len(stack)-1]
	return r.tasks[id], id, true
}

func (r *reconstructor) validLabel(thread int, label rawlog.LabelID) bool {
	if _, err := r.raw.Label(label); err != nil {
		r.fail("thread %d: %v", thread, err)
		return false
	}
	return true
}

func (r *reconstructor) apply(thread int, e rawlog.Event) {
	described := events.Event{Kind: e.Kind, Task: e.Task, Time: e.Time, Amount: e.Amount}
	if e.Kind == events.KindSubgraphStart || e.Kind == events.KindSubgraphEnd || e.Kind == events.KindWork {
		if !r.validLabel(thread, e.Label) {
			return
		}
		described.Tag = r.raw.Labels[e.Label]
	}

	switch e.Kind {
	case events.KindTaskStart:
		if _, exists := r.tasks[e.Task]; exists {
			r.fail("task %d started twice", e.Task)
			return
		}
		r.tasks[e.Task] = &pendingTask{start: e.Time, thread: thread}
		r.active[thread] = append(r.active[thread], e.Task)

	case events.KindTaskEnd:
		task, id, ok := r.current(thread, described)
		if !ok {
			return
		}
		r.active[thread] = r.active[thread][:len(r.active[thread])-1]
		if e.Time < task.start {
			r.fail("task %d ends at %d before its start at %d", id, e.Time, task.start)
		}
		task.end = e.Time
		task.ended = true

	case events.KindChild:
		task, _, ok := r.current(thread, described)
		if !ok {
			return
		}
		task.children = append(task.children, e.Task)

	case events.KindSubgraphStart:
		_, id, ok := r.current(thread, described)
		if !ok {
			return
		}
		r.open[thread] = append(r.open[thread], len(r.subgraphs))
		r.subgraphs = append(r.subgraphs, pendingSubgraph{start: id, label: e.Label})

	case events.KindSubgraphEnd:
		task, id, ok := r.current(thread, described)
		if !ok {
			return
		}
		open := r.open[thread]
		if len(open) == 0 {
			r.fail("%v on thread %d with no open subgraph", described, thread)
			return
		}
		s := &r.subgraphs[open[len(open)-1]]
		r.open[thread] = open[:len(open)-1]
		if s.label != e.Label {
			r.fail("%v on thread %d closes subgraph %q", described, thread, r.raw.Labels[s.label])
			return
		}
		s.end = id
		s.amount = e.Amount
		s.closed = true
		if s.start == id {
			task.work = WorkInfo{Kind: SequentialWork, Tag: int(e.Label), Amount: e.Amount}
		}

	case events.KindWork:
		task, _, ok := r.current(thread, described)
		if !ok {
			return
		}
		task.work = WorkInfo{Kind: IteratorWork, Tag: int(e.Label), Amount: e.Amount}

	default:
		r.fail("unknown event kind %v on thread %d", e.Kind, thread)
	}
}

func (r *reconstructor) checkComplete() {
	for thread, stack := range r.active {
		for _, id := range stack {
			r.fail("task %d on thread %d never ended", id, thread)
		}
	}
	for thread, open := range r.open {
		for _, index := range open {
			r.fail("subgraph %q on thread %d never closed", r.raw.Labels[r.subgraphs[index].label], thread)
		}
	}
	for _, id := range r.sortedIDs() {
		for _, child := range r.tasks[id].children {
			if _, ok := r.tasks[child]; !ok {
				r.fail("task %d has child %d which never started", id, child)
			}
		}
	}
}

func (r *reconstructor) sortedIDs() []events.TaskID {
	ids := make([]events.TaskID, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// build renumbers tasks densely in id order and shifts times so the earliest start is 0
func (r *reconstructor) build() *RunLog {
	ids := r.sortedIDs()
	index := make(map[events.TaskID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	var origin, latest events.Timestamp
	for i, id := range ids {
		t := r.tasks[id]
		if i == 0 || t.start < origin {
			origin = t.start
		}
		if t.end > latest {
			latest = t.end
		}
	}

	result := &RunLog{
		ThreadsNumber: len(r.raw.ThreadEvents),
		Tags:          append([]string{}, r.raw.Labels...),
		Tasks:         make([]TaskRecord, len(ids)),
		Subgraphs:     make([]Subgraph, 0, len(r.subgraphs)),
	}
	if len(ids) > 0 {
		result.Duration = uint64(latest - origin)
	}
	for i, id := range ids {
		t := r.tasks[id]
		children := make([]int, len(t.children))
		for j, child := range t.children {
			children[j] = index[child]
		}
		result.Tasks[i] = TaskRecord{
			StartTime: uint64(t.start - origin),
			EndTime:   uint64(t.end - origin),
			ThreadID:  t.thread,
			Children:  children,
			Work:      t.work,
		}
	}
	for _, s := range r.subgraphs {
		result.Subgraphs = append(result.Subgraphs, Subgraph{
			StartTask: index[s.start],
			EndTask:   index[s.end],
			Tag:       int(s.label),
			Amount:    s.amount,
		})
	}
	return result
}
