package tef

import (
	"fmt"
	"io"

	"github.com/omaskery/tasklog/pkg/runlog"
)

const (
	// ProcessName names the single process of exported traces
	ProcessName   = "tasklog"
	CategoryTask  = "task"
	CategoryEdge  = "edge"
	nanosPerMicro = 1000.0
)

func micros(ns uint64) float64 {
	return float64(ns) / nanosPerMicro
}

func int64Ptr(v int64) *int64 {
	return &v
}

// FromRunLog converts a run log into trace events: one complete event per task on its thread, thread
// names, and a flow between every parent and child running on different threads
func FromRunLog(log *runlog.RunLog) Data {
	var data Data
	data.SetDisplayTimeUnit(DisplayTimeNs)
	data.SetMetadata("threads_number", log.ThreadsNumber)
	data.SetMetadata("duration_ns", log.Duration)

	pid := int64Ptr(0)
	data.Write(&MetadataProcessName{
		EventCore:   EventCore{ProcessID: pid},
		ProcessName: ProcessName,
	})
	for thread := 0; thread < log.ThreadsNumber; thread++ {
		data.Write(&MetadataThreadName{
			EventCore:  EventCore{ProcessID: pid, ThreadID: int64Ptr(int64(thread))},
			ThreadName: fmt.Sprintf("worker %d", thread),
		})
	}

	for index := range log.Tasks {
		task := &log.Tasks[index]
		args := map[string]interface{}{
			"task":     index,
			"children": task.Children,
		}
		name := fmt.Sprintf("task %d", index)
		if w := task.Work; w.Kind != runlog.NoInformation && w.Tag < len(log.Tags) {
			name = log.Tags[w.Tag]
			args["work"] = w.Kind.String()
			args["amount"] = w.Amount
		}
		data.Write(&Complete{
			EventWithArgs: EventWithArgs{
				EventCore: EventCore{
					Name:       name,
					Categories: []string{CategoryTask},
					Timestamp:  micros(task.StartTime),
					ProcessID:  pid,
					ThreadID:   int64Ptr(int64(task.ThreadID)),
				},
				Args: args,
			},
			Duration: micros(task.Duration()),
		})
	}

	for parent := range log.Tasks {
		from := &log.Tasks[parent]
		for _, child := range from.Children {
			to := &log.Tasks[child]
			if to.ThreadID == from.ThreadID {
				continue
			}
			id := fmt.Sprintf("%d-%d", parent, child)
			data.Write(&FlowStart{
				EventWithArgs: EventWithArgs{EventCore: EventCore{
					Name:       "spawn",
					Categories: []string{CategoryEdge},
					Timestamp:  micros(from.EndTime),
					ProcessID:  pid,
					ThreadID:   int64Ptr(int64(from.ThreadID)),
				}},
				Id: id,
			})
			data.Write(&FlowFinish{
				EventWithArgs: EventWithArgs{EventCore: EventCore{
					Name:       "spawn",
					Categories: []string{CategoryEdge},
					Timestamp:  micros(to.StartTime),
					ProcessID:  pid,
					ThreadID:   int64Ptr(int64(to.ThreadID)),
				}},
				Id:           id,
				BindingPoint: BindingPointEnclosing,
			})
		}
	}

	return data
}

// Export writes log to w in the JSON Object Format
func Export(w io.Writer, log *runlog.RunLog) error {
	if err := WriteJsonObject(w, FromRunLog(log)); err != nil {
		return fmt.Errorf("failed to export run log: %w", err)
	}
	return nil
}

// ExportArray writes the events of log to w in the JSON Array Format, which carries no metadata
func ExportArray(w io.Writer, log *runlog.RunLog) error {
	if err := WriteJsonArray(w, FromRunLog(log).Events()); err != nil {
		return fmt.Errorf("failed to export run log: %w", err)
	}
	return nil
}
