// forkjoin arranges the tasks of a run log into nested sequential and parallel blocks
package forkjoin

import (
	"container/heap"
	"fmt"

	"github.com/omaskery/tasklog/pkg/runlog"
)

var (
	ErrNoCommonAncestor = fmt.Errorf("%w: no common ancestor block", runlog.ErrReconstruction)
	ErrCycle            = fmt.Errorf("%w: task graph contains a cycle", runlog.ErrReconstruction)
	ErrUnknownChild     = fmt.Errorf("%w: child index out of range", runlog.ErrReconstruction)
)

// BlockID indexes Graph.Blocks, ids follow creation order so an enclosing block always has a smaller id
type BlockID int

type BlockKind uint8

const (
	TaskBlock BlockKind = iota
	SequenceBlock
	ParallelBlock
)

func (k BlockKind) String() string {
	switch k {
	case TaskBlock:
		return "Task"
	case SequenceBlock:
		return "Sequence"
	case ParallelBlock:
		return "Parallel"
	}
	return fmt.Sprintf("BlockKind(%d)", uint8(k))
}

// Block is either a single task or an ordered composition of blocks
type Block struct {
	Kind BlockKind
	// Task indexes the run log's tasks when Kind is TaskBlock
	Task int
	// Children holds the sub blocks of a sequence, in order, or of a parallel block
	Children []BlockID
}

// Graph is the block structure of a run log
type Graph struct {
	Blocks []Block
	// Roots are sequences of tasks without parents, ordered by the start time of their first task
	Roots []BlockID
	// Log is the run log the graph was built from
	Log *runlog.RunLog
}

type builder struct {
	log     *runlog.RunLog
	blocks  []Block
	fathers [][]int
	// taskBlock is the sequence holding each placed task
	taskBlock map[int]BlockID
	// parallel is the parallel block following each forking task
	parallel map[int]BlockID
	// enclosing maps each branch sequence to the sequence holding its forking task
	enclosing map[BlockID]BlockID
}

// Build places every task of log into blocks. Parents are placed before their children, earliest
// start first. A task with several parents goes into the nearest block enclosing all of theirs.
func Build(log *runlog.RunLog) (*Graph, error) {
	b := &builder{
		log:       log,
		blocks:    make([]Block, 0, 2*len(log.Tasks)),
		fathers:   make([][]int, len(log.Tasks)),
		taskBlock: map[int]BlockID{},
		parallel:  map[int]BlockID{},
		enclosing: map[BlockID]BlockID{},
	}
	for task, record := range log.Tasks {
		for _, child := range record.Children {
			if child < 0 || child >= len(log.Tasks) {
				return nil, fmt.Errorf("%w: task %d has child %d", ErrUnknownChild, task, child)
			}
			b.fathers[child] = append(b.fathers[child], task)
		}
	}

	order, err := b.topologicalOrder()
	if err != nil {
		return nil, err
	}

	type root struct {
		task  int
		block BlockID
	}
	var roots []root
	for _, task := range order {
		sequence, err := b.sequenceFor(task)
		if err != nil {
			return nil, err
		}
		if len(b.fathers[task]) == 0 {
			roots = append(roots, root{task: task, block: sequence})
		}

		placed := b.add(Block{Kind: TaskBlock, Task: task})
		b.append(sequence, placed)
		b.taskBlock[task] = sequence

		if len(log.Tasks[task].Children) > 1 {
			p := b.add(Block{Kind: ParallelBlock})
			b.append(sequence, p)
			b.parallel[task] = p
		}
	}

	g := &Graph{
		Blocks: b.blocks,
		Roots:  make([]BlockID, 0, len(roots)),
		Log:    log,
	}
	// roots come out of the topological order already sorted by start time
	for _, r := range roots {
		g.Roots = append(g.Roots, r.block)
	}
	return g, nil
}

func (b *builder) add(block Block) BlockID {
	b.blocks = append(b.blocks, block)
	return BlockID(len(b.blocks) - 1)
}

func (b *builder) append(to, block BlockID) {
	b.blocks[to].Children = append(b.blocks[to].Children, block)
}

func (b *builder) sequenceFor(task int) (BlockID, error) {
	fathers := b.fathers[task]
	switch {
	case len(fathers) == 0:
		return b.add(Block{Kind: SequenceBlock}), nil

	case len(fathers) == 1:
		father := fathers[0]
		if len(b.log.Tasks[father].Children) == 1 {
			return b.taskBlock[father], nil
		}
		sequence := b.add(Block{Kind: SequenceBlock})
		b.enclosing[sequence] = b.taskBlock[father]
		b.append(b.parallel[father], sequence)
		return sequence, nil

	default:
		common := b.taskBlock[fathers[0]]
		for _, father := range fathers[1:] {
			var ok bool
			if common, ok = b.commonAncestor(common, b.taskBlock[father]); !ok {
				return 0, fmt.Errorf("%w: parents of task %d", ErrNoCommonAncestor, task)
			}
		}
		return common, nil
	}
}

// ancestors lists block and its enclosing sequences, innermost first
func (b *builder) ancestors(block BlockID) []BlockID {
	chain := []BlockID{block}
	for {
		up, ok := b.enclosing[block]
		if !ok {
			return chain
		}
		chain = append(chain, up)
		block = up
	}
}

// commonAncestor finds the innermost block enclosing both a and b
func (b *builder) commonAncestor(x, y BlockID) (BlockID, bool) {
	seen := map[BlockID]bool{}
	for _, block := range b.ancestors(x) {
		seen[block] = true
	}
	for _, block := range b.ancestors(y) {
		if seen[block] {
			return block, true
		}
	}
	return 0, false
}

// readyHeap orders tasks by start time then index
type readyHeap struct {
	tasks []int
	log   *runlog.RunLog
}

func (h *readyHeap) Len() int { return len(h.tasks) }
func (h *readyHeap) Less(i, j int) bool {
	a, b := h.tasks[i], h.tasks[j]
	if sa, sb := h.log.Tasks[a].StartTime, h.log.Tasks[b].StartTime; sa != sb {
		return sa < sb
	}
	return a < b
}
func (h *readyHeap) Swap(i, j int) { h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i] }
func (h *readyHeap) Push(x any)    { h.tasks = append(h.tasks, x.(int)) }
func (h *readyHeap) Pop() any {
	last := h.tasks[len(h.tasks)-1]
	h.tasks = h.tasks[:len(h.tasks)-1]
	return last
}

// topologicalOrder returns tasks with all parents before their children, taking the earliest ready
// task first
func (b *builder) topologicalOrder() ([]int, error) {
	pending := make([]int, len(b.log.Tasks))
	ready := &readyHeap{log: b.log}
	for task, fathers := range b.fathers {
		pending[task] = len(fathers)
		if len(fathers) == 0 {
			ready.tasks = append(ready.tasks, task)
		}
	}
	heap.Init(ready)

	order := make([]int, 0, len(b.log.Tasks))
	for ready.Len() > 0 {
		task := heap.Pop(ready).(int)
		order = append(order, task)
		for _, child := range b.log.Tasks[task].Children {
			pending[child]--
			if pending[child] == 0 {
				heap.Push(ready, child)
			}
		}
	}
	if len(order) != len(b.log.Tasks) {
		return nil, fmt.Errorf("%w: %d of %d tasks unreachable", ErrCycle, len(b.log.Tasks)-len(order), len(b.log.Tasks))
	}
	return order, nil
}

// SequenceCount counts the sequence blocks of the graph
func (g *Graph) SequenceCount() int {
	count := 0
	for _, block := range g.Blocks {
		if block.Kind == SequenceBlock {
			count++
		}
	}
	return count
}
