// runlog holds the reconstructed description of one execution: every task with its timing, thread,
// children and work annotation.
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrReconstruction = errors.New("inconsistent trace")
	ErrInvalidWork    = errors.New("invalid work information")
)

// WorkKind says which WorkInfo variant is set
type WorkKind uint8

const (
	NoInformation WorkKind = iota
	// SequentialWork is a subgraph that ran as a single task
	SequentialWork
	// IteratorWork is an amount logged directly on a task
	IteratorWork
)

func (k WorkKind) String() string {
	switch k {
	case NoInformation:
		return "NoInformation"
	case SequentialWork:
		return "SequentialWork"
	case IteratorWork:
		return "IteratorWork"
	}
	return fmt.Sprintf("WorkKind(%d)", uint8(k))
}

// WorkInfo attributes an amount of work of a given tag to a task
type WorkInfo struct {
	Kind WorkKind
	// Tag indexes RunLog.Tags
	Tag    int
	Amount uint64
}

// MarshalJSON writes "NoInformation" or {"<Kind>": [tag, amount]}
func (w WorkInfo) MarshalJSON() ([]byte, error) {
	switch w.Kind {
	case NoInformation:
		return json.Marshal(NoInformation.String())
	case SequentialWork, IteratorWork:
		return json.Marshal(map[string][2]uint64{
			w.Kind.String(): {uint64(w.Tag), w.Amount},
		})
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidWork, w.Kind)
}

func (w *WorkInfo) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit != NoInformation.String() {
			return fmt.Errorf("%w: %q", ErrInvalidWork, unit)
		}
		*w = WorkInfo{}
		return nil
	}

	var tagged map[string][2]uint64
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWork, err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("%w: expected a single variant, got %d", ErrInvalidWork, len(tagged))
	}
	for name, values := range tagged {
		switch name {
		case SequentialWork.String():
			w.Kind = SequentialWork
		case IteratorWork.String():
			w.Kind = IteratorWork
		default:
			return fmt.Errorf("%w: unknown variant %q", ErrInvalidWork, name)
		}
		w.Tag = int(values[0])
		w.Amount = values[1]
	}
	return nil
}

// TaskRecord is one uninterrupted span of execution on a single thread. Times are nanoseconds since the
// earliest start of the run.
type TaskRecord struct {
	StartTime uint64   `json:"start_time"`
	EndTime   uint64   `json:"end_time"`
	ThreadID  int      `json:"thread_id"`
	Children  []int    `json:"children"`
	Work      WorkInfo `json:"work"`
}

// Duration returns how long the task ran
func (t *TaskRecord) Duration() uint64 {
	return t.EndTime - t.StartTime
}

// Subgraph is a tagged span of execution, from the task active when it opened to the task active when
// it closed
type Subgraph struct {
	StartTask int    `json:"start_task"`
	EndTask   int    `json:"end_task"`
	Tag       int    `json:"tag"`
	Amount    uint64 `json:"amount"`
}

// RunLog is the fork-join task graph of one execution. Tasks are indexed densely from 0 and every
// child index refers to Tasks.
type RunLog struct {
	ThreadsNumber int          `json:"threads_number"`
	Duration      uint64       `json:"duration"`
	Tags          []string     `json:"tags"`
	Tasks         []TaskRecord `json:"tasks"`
	Subgraphs     []Subgraph   `json:"subgraphs"`
}

// Save writes the run log as JSON
func (l *RunLog) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create run log file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close run log file: %w", closeErr)
		}
	}()

	encoder := json.NewEncoder(f)
	if err := encoder.Encode(l); err != nil {
		return fmt.Errorf("failed to encode run log: %w", err)
	}
	return nil
}

// Load reads a run log written by Save
func Load(path string) (*RunLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log file: %w", err)
	}
	defer f.Close()

	var result RunLog
	if err := json.NewDecoder(f).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode run log: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run log %s: %w", path, err)
	}
	return &result, nil
}

// Validate checks that every index of l is in range and every task ends after it starts, reporting
// all violations, each wrapping ErrReconstruction
func (l *RunLog) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: %s", ErrReconstruction, fmt.Sprintf(format, args...)))
	}
	validTask := func(i int) bool {
		return i >= 0 && i < len(l.Tasks)
	}
	validTag := func(i int) bool {
		return i >= 0 && i < len(l.Tags)
	}

	for i := range l.Tasks {
		t := &l.Tasks[i]
		if t.EndTime < t.StartTime {
			fail("task %d ends at %d before its start at %d", i, t.EndTime, t.StartTime)
		}
		if t.ThreadID < 0 || t.ThreadID >= l.ThreadsNumber {
			fail("task %d runs on thread %d of %d", i, t.ThreadID, l.ThreadsNumber)
		}
		for _, child := range t.Children {
			if !validTask(child) {
				fail("task %d has child %d of %d tasks", i, child, len(l.Tasks))
			}
		}
		if t.Work.Kind != NoInformation && !validTag(t.Work.Tag) {
			fail("task %d has work tag %d of %d tags", i, t.Work.Tag, len(l.Tags))
		}
	}
	for i, s := range l.Subgraphs {
		if !validTask(s.StartTask) || !validTask(s.EndTask) {
			fail("subgraph %d spans tasks %d to %d of %d", i, s.StartTask, s.EndTask, len(l.Tasks))
		}
		if !validTag(s.Tag) {
			fail("subgraph %d has tag %d of %d tags", i, s.Tag, len(l.Tags))
		}
	}
	return result.ErrorOrNil()
}
