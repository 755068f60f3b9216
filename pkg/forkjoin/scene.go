package forkjoin

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/omaskery/tasklog/pkg/runlog"
)

// VerticalGap separates consecutive blocks of a sequence
const VerticalGap = 0.2

type Point struct {
	X, Y float64
}

type Segment struct {
	From, To Point
}

// Rectangle is a task, or an idle period of a thread, laid out in time units horizontally and rows
// vertically
type Rectangle struct {
	Thread   int
	Position Point
	Width    float64
	Height   float64
	// Start and End bound the animation, in nanoseconds of the run
	Start, End uint64
	Idle       bool
	// Information describes the rectangle under every tag, see runlog.RunLog.TasksInformation
	Information map[string]runlog.TaskInformation
}

// Scene is a positioned view of a run log, ready to be drawn by any renderer
type Scene struct {
	Rectangles []Rectangle
	// Segments link the exit of each block to the entry of the next one
	Segments []Segment
	// Tags lists runlog.NoTags followed by the tags of the run
	Tags []string
}

type dimensions struct {
	width, height float64
}

type layout struct {
	graph       *Graph
	sizes       []dimensions
	positions   []Point
	information map[int]map[string]runlog.TaskInformation
	scene       *Scene
}

// Visualisation builds the block graph of log and positions it: sequences stack vertically, parallel
// blocks sit side by side, everything centred. Idle periods of each thread are placed below the graph.
func Visualisation(log *runlog.RunLog) (*Scene, error) {
	g, err := Build(log)
	if err != nil {
		return nil, err
	}

	scene := &Scene{
		Tags: append([]string{runlog.NoTags}, log.Tags...),
	}
	l := &layout{
		graph:       g,
		sizes:       make([]dimensions, len(g.Blocks)),
		positions:   make([]Point, len(g.Blocks)),
		information: log.TasksInformation(),
		scene:       scene,
	}

	width := 0.0
	for _, root := range g.Roots {
		if d := l.measure(root); d.width > width {
			width = d.width
		}
	}

	height := 0.0
	for _, root := range g.Roots {
		l.positions[root] = Point{X: (width - l.sizes[root].width) / 2, Y: height}
		l.place(root)
		height += l.sizes[root].height + 1
	}

	for _, root := range g.Roots {
		l.draw(root)
	}

	addIdleTimes(log, Point{X: width * 0.1, Y: height + 1}, scene)
	return scene, nil
}

func (l *layout) measure(id BlockID) dimensions {
	block := &l.graph.Blocks[id]
	var d dimensions
	switch block.Kind {
	case TaskBlock:
		d = dimensions{width: float64(l.graph.Log.Tasks[block.Task].Duration()), height: 1}
	case SequenceBlock:
		d.height = -VerticalGap
		for _, child := range block.Children {
			c := l.measure(child)
			d.width = max(d.width, c.width)
			d.height += c.height + VerticalGap
		}
	case ParallelBlock:
		for _, child := range block.Children {
			c := l.measure(child)
			d.width += c.width
			d.height = max(d.height, c.height)
		}
	}
	l.sizes[id] = d
	return d
}

func (l *layout) place(id BlockID) {
	block := &l.graph.Blocks[id]
	origin := l.positions[id]
	switch block.Kind {
	case SequenceBlock:
		y := origin.Y
		for _, child := range block.Children {
			gap := (l.sizes[id].width - l.sizes[child].width) / 2
			l.positions[child] = Point{X: origin.X + gap, Y: y}
			l.place(child)
			y += l.sizes[child].height + VerticalGap
		}
	case ParallelBlock:
		x := origin.X
		for _, child := range block.Children {
			gap := (l.sizes[id].height - l.sizes[child].height) / 2
			l.positions[child] = Point{X: x, Y: origin.Y + gap}
			l.place(child)
			x += l.sizes[child].width
		}
	}
}

// draw emits the rectangles and segments of a block and returns its entry and exit points
func (l *layout) draw(id BlockID) (entries, exits []Point) {
	block := &l.graph.Blocks[id]
	switch block.Kind {
	case TaskBlock:
		task := &l.graph.Log.Tasks[block.Task]
		position := l.positions[id]
		duration := float64(task.Duration())
		l.scene.Rectangles = append(l.scene.Rectangles, Rectangle{
			Thread:      task.ThreadID,
			Position:    position,
			Width:       duration,
			Height:      1,
			Start:       task.StartTime,
			End:         task.EndTime,
			Information: l.information[block.Task],
		})
		middle := position.X + duration/2
		return []Point{{X: middle, Y: position.Y}}, []Point{{X: middle, Y: position.Y + 1}}

	case SequenceBlock:
		var previousExits []Point
		for i, child := range block.Children {
			childEntries, childExits := l.draw(child)
			if i == 0 {
				entries = childEntries
			}
			for _, from := range previousExits {
				for _, to := range childEntries {
					l.scene.Segments = append(l.scene.Segments, Segment{From: from, To: to})
				}
			}
			previousExits = childExits
		}
		return entries, previousExits

	default:
		for _, child := range block.Children {
			childEntries, childExits := l.draw(child)
			entries = append(entries, childEntries...)
			exits = append(exits, childExits...)
		}
		return entries, exits
	}
}

type activity struct {
	thread     int
	start, end uint64
}

// replayActivities walks the tasks of log by start time, plus a closing marker per thread at the end of
// the run, calling idle for every gap in a thread's activity
func replayActivities(log *runlog.RunLog, idle func(thread int, from, to uint64)) {
	if log.ThreadsNumber == 0 {
		return
	}
	var first, last uint64
	for i, t := range log.Tasks {
		if i == 0 || t.StartTime < first {
			first = t.StartTime
		}
		last = max(last, t.EndTime)
	}

	activities := make([]activity, 0, len(log.Tasks)+log.ThreadsNumber)
	for _, t := range log.Tasks {
		activities = append(activities, activity{thread: t.ThreadID, start: t.StartTime, end: t.EndTime})
	}
	for thread := 0; thread < log.ThreadsNumber; thread++ {
		activities = append(activities, activity{thread: thread, start: last, end: last + 1})
	}
	slices.SortStableFunc(activities, func(a, b activity) int {
		return cmp.Compare(a.start, b.start)
	})

	previous := make([]uint64, log.ThreadsNumber)
	for i := range previous {
		previous[i] = first
	}
	for _, a := range activities {
		if a.thread < 0 || a.thread >= log.ThreadsNumber {
			continue
		}
		if a.start > previous[a.thread] {
			idle(a.thread, previous[a.thread], a.start)
		}
		previous[a.thread] = a.end
	}
}

// IdleTime sums the periods during which each thread ran no task, between the first start and the last
// end of the run
func IdleTime(log *runlog.RunLog) uint64 {
	var total uint64
	replayActivities(log, func(_ int, from, to uint64) {
		total += to - from
	})
	return total
}

func addIdleTimes(log *runlog.RunLog, origin Point, scene *Scene) {
	x := make([]float64, log.ThreadsNumber)
	for i := range x {
		x[i] = origin.X
	}
	replayActivities(log, func(thread int, from, to uint64) {
		width := float64(to - from)
		scene.Rectangles = append(scene.Rectangles, Rectangle{
			Thread:   thread,
			Position: Point{X: x[thread], Y: origin.Y + float64(thread)*(1+VerticalGap)},
			Width:    width,
			Height:   1,
			Start:    from,
			End:      to,
			Idle:     true,
			Information: map[string]runlog.TaskInformation{
				runlog.NoTags: {Label: "idle", Opacity: 1},
			},
		})
		x[thread] += width
	})
}
