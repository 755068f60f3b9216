// rawlog is the at-rest form of recorded events: the unmerged per thread logs with their tags interned
package rawlog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang/snappy"

	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/registry"
)

var (
	ErrDataFormat   = errors.New("invalid raw log data")
	ErrUnknownEvent = fmt.Errorf("%w: unknown event discriminant", ErrDataFormat)
	ErrTruncated    = fmt.Errorf("%w: truncated", ErrDataFormat)
	ErrInvalidLabel = fmt.Errorf("%w: label is not valid UTF-8", ErrDataFormat)
	ErrUnknownLabel = fmt.Errorf("%w: label index out of range", ErrDataFormat)
	ErrTrailingData = fmt.Errorf("%w: data after the last thread", ErrDataFormat)
)

// CompressedSuffix marks raw log files stored as snappy framed streams
const CompressedSuffix = ".sz"

// LabelID indexes RawLogs.Labels
type LabelID uint64

// Event is an events.Event with its tag replaced by the index of an interned label
type Event struct {
	Kind   events.Kind
	Task   events.TaskID
	Time   events.Timestamp
	Label  LabelID
	Amount uint64
}

// RawLogs holds every recorded event, unmerged, grouped by the index of the recording thread
type RawLogs struct {
	Labels       []string
	ThreadEvents [][]Event
}

// FromRegistry copies the logs of every registered thread. Labels are numbered in the order they are
// first seen, walking threads by index and each log in push order.
func FromRegistry(reg *registry.Registry) *RawLogs {
	threads := reg.Threads()
	result := &RawLogs{
		Labels:       []string{},
		ThreadEvents: make([][]Event, len(threads)),
	}
	interned := map[string]LabelID{}
	intern := func(tag string) LabelID {
		if id, ok := interned[tag]; ok {
			return id
		}
		id := LabelID(len(result.Labels))
		interned[tag] = id
		result.Labels = append(result.Labels, tag)
		return id
	}

	for i, t := range threads {
		log := make([]Event, 0, t.Log().Len())
		t.Log().All(func(e events.Event) bool {
			raw := Event{
				Kind:   e.Kind,
				Task:   e.Task,
				Time:   e.Time,
				Amount: e.Amount,
			}
			if hasLabel(e.Kind) {
				raw.Label = intern(e.Tag)
			}
			log = append(log, raw)
			return true
		})
		result.ThreadEvents[i] = log
	}
	return result
}

func hasLabel(k events.Kind) bool {
	return k == events.KindSubgraphStart || k == events.KindSubgraphEnd || k == events.KindWork
}

// Label resolves an interned label
func (l *RawLogs) Label(id LabelID) (string, error) {
	if id >= LabelID(len(l.Labels)) {
		return "", fmt.Errorf("%w: %d of %d", ErrUnknownLabel, id, len(l.Labels))
	}
	return l.Labels[id], nil
}

// EventCount returns the number of events over all threads
func (l *RawLogs) EventCount() int {
	total := 0
	for _, log := range l.ThreadEvents {
		total += len(log)
	}
	return total
}

// Save writes the logs to path, snappy compressed when path ends with CompressedSuffix
func (l *RawLogs) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raw log file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close raw log file: %w", closeErr)
		}
	}()

	if !strings.HasSuffix(path, CompressedSuffix) {
		return NewEncoder(f).Encode(l)
	}

	compressed := snappy.NewBufferedWriter(f)
	if err := NewEncoder(compressed).Encode(l); err != nil {
		return err
	}
	if err := compressed.Close(); err != nil {
		return fmt.Errorf("failed to flush compressed raw log: %w", err)
	}
	return nil
}

// Load reads logs written by Save
func Load(path string) (*RawLogs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw log file: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(path, CompressedSuffix) {
		return NewDecoder(snappy.NewReader(f)).Decode()
	}
	return NewDecoder(f).Decode()
}
