// stats aggregates the run logs of repeated executions of several algorithms
package stats

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/omaskery/tasklog/pkg/forkjoin"
	"github.com/omaskery/tasklog/pkg/runlog"
)

var (
	ErrNoRuns     = errors.New("no runs to compute statistics on")
	ErrUnevenRuns = errors.New("algorithms have different numbers of runs")
)

// Stats computes per algorithm statistics. The runs of each algorithm are expected sorted by duration so
// the median run sits at index RunsNumber()/2.
type Stats struct {
	logs          [][]*runlog.RunLog
	threadsNumber int
	runsNumber    int
	tags          []string
	// tagged holds, per algorithm and tag, the stats of every run having that tag, in run order
	tagged []map[string][]runlog.TagStat
}

// New checks that every algorithm has the same, non zero, number of runs. The tags of every run are
// renumbered in place so a tag index designates the same tag, the one at that index of Tags, in all runs.
func New(logs [][]*runlog.RunLog) (*Stats, error) {
	if len(logs) == 0 || len(logs[0]) == 0 {
		return nil, ErrNoRuns
	}
	s := &Stats{
		logs:          logs,
		threadsNumber: logs[0][0].ThreadsNumber,
		runsNumber:    len(logs[0]),
		tagged:        make([]map[string][]runlog.TagStat, len(logs)),
	}

	tags := map[string]int{}
	for _, algorithm := range logs {
		if len(algorithm) != s.runsNumber {
			return nil, fmt.Errorf("%w: %d and %d", ErrUnevenRuns, s.runsNumber, len(algorithm))
		}
		for _, run := range algorithm {
			run.ScanTags(tags)
		}
	}
	for i, algorithm := range logs {
		s.tagged[i] = map[string][]runlog.TagStat{}
		for _, run := range algorithm {
			run.UpdateTags(tags)
			for tag, stat := range run.TagStats() {
				s.tagged[i][tag] = append(s.tagged[i][tag], stat)
			}
		}
	}
	s.tags = make([]string, len(tags))
	for tag, i := range tags {
		s.tags[i] = tag
	}
	return s, nil
}

func (s *Stats) RunsNumber() int {
	return s.runsNumber
}

func (s *Stats) ThreadsNumber() int {
	return s.threadsNumber
}

// Tags lists every tag of every run, in order of first appearance
func (s *Stats) Tags() []string {
	return s.tags
}

func (s *Stats) median(algorithm int) *runlog.RunLog {
	return s.logs[algorithm][s.runsNumber/2]
}

func sum[T constraints.Integer | constraints.Float](values []T) T {
	var total T
	for _, v := range values {
		total += v
	}
	return total
}

func perAlgorithm[T any](s *Stats, f func(algorithm int) T) []T {
	result := make([]T, len(s.logs))
	for i := range s.logs {
		result[i] = f(i)
	}
	return result
}

func (s *Stats) durations(algorithm int) []uint64 {
	result := make([]uint64, len(s.logs[algorithm]))
	for i, run := range s.logs[algorithm] {
		result[i] = run.Duration
	}
	return result
}

func activity(run *runlog.RunLog) uint64 {
	var total uint64
	for i := range run.Tasks {
		total += run.Tasks[i].Duration()
	}
	return total
}

// TotalTimes is the mean duration of the runs of each algorithm
func (s *Stats) TotalTimes() []uint64 {
	return perAlgorithm(s, func(a int) uint64 {
		return sum(s.durations(a)) / uint64(s.runsNumber)
	})
}

// TotalTimesMedian is the duration of the median run of each algorithm
func (s *Stats) TotalTimesMedian() []uint64 {
	return perAlgorithm(s, func(a int) uint64 {
		return s.median(a).Duration
	})
}

// IdleTimes is, per algorithm, the mean over runs of the thread time not spent in tasks
func (s *Stats) IdleTimes() []uint64 {
	return perAlgorithm(s, func(a int) uint64 {
		activities := make([]uint64, s.runsNumber)
		for i, run := range s.logs[a] {
			activities[i] = activity(run)
		}
		available := sum(s.durations(a)) / uint64(s.runsNumber) * uint64(s.threadsNumber)
		used := sum(activities) / uint64(s.runsNumber)
		if used > available {
			return 0
		}
		return available - used
	})
}

// IdleTimesMedian replays the median run of each algorithm and sums the gaps in every thread's activity
func (s *Stats) IdleTimesMedian() []uint64 {
	return perAlgorithm(s, func(a int) uint64 {
		return forkjoin.IdleTime(s.median(a))
	})
}

// UnrolledTimesMedian is the area of the median run: its duration times the number of threads
func (s *Stats) UnrolledTimesMedian() []uint64 {
	return perAlgorithm(s, func(a int) uint64 {
		return s.median(a).Duration * uint64(s.threadsNumber)
	})
}

// MedianTaskCounts is the number of tasks of the median run of each algorithm
func (s *Stats) MedianTaskCounts() []int {
	return perAlgorithm(s, func(a int) int {
		return len(s.median(a).Tasks)
	})
}

// MedianSequenceCounts is the number of sequence blocks in the graph of the median run of each algorithm
func (s *Stats) MedianSequenceCounts() ([]int, error) {
	result := make([]int, len(s.logs))
	for a := range s.logs {
		g, err := forkjoin.Build(s.median(a))
		if err != nil {
			return nil, fmt.Errorf("algorithm %d: %w", a, err)
		}
		result[a] = g.SequenceCount()
	}
	return result, nil
}

// AverageSteals is the mean number of fork children run by another thread than their parent
func (s *Stats) AverageSteals() []int {
	return perAlgorithm(s, func(a int) int {
		steals := make([]int, s.runsNumber)
		for i, run := range s.logs[a] {
			steals[i] = run.Steals()
		}
		return sum(steals) / s.runsNumber
	})
}

// AverageTaggedTimes is, per algorithm and tag, the summed duration of the tag's subgraphs divided by the
// number of runs
func (s *Stats) AverageTaggedTimes() []map[string]uint64 {
	return perAlgorithm(s, func(a int) map[string]uint64 {
		result := map[string]uint64{}
		for tag, stats := range s.tagged[a] {
			var total uint64
			for _, stat := range stats {
				total += stat.Duration
			}
			result[tag] = total / uint64(s.runsNumber)
		}
		return result
	})
}

// MedianTaggedStats picks, per algorithm and tag, the stats of the median run among those having the tag
func (s *Stats) MedianTaggedStats() []map[string]runlog.TagStat {
	return perAlgorithm(s, func(a int) map[string]runlog.TagStat {
		result := map[string]runlog.TagStat{}
		for tag, stats := range s.tagged[a] {
			if index := s.runsNumber / 2; index < len(stats) {
				result[tag] = stats[index]
			}
		}
		return result
	})
}

// TasksSplitMedian counts, per tag, the tasks spanned by the tag's subgraphs in the median run
func (s *Stats) TasksSplitMedian() []map[string]int {
	return perAlgorithm(s, func(a int) map[string]int {
		return s.median(a).CountTasks()
	})
}

// SequentialTimesMedian sums, per tag, the duration of the tasks of the median run holding all the work
// of a subgraph
func (s *Stats) SequentialTimesMedian() []map[string]uint64 {
	return perAlgorithm(s, func(a int) map[string]uint64 {
		run := s.median(a)
		result := map[string]uint64{}
		for i := range run.Tasks {
			if w := run.Tasks[i].Work; w.Kind == runlog.SequentialWork {
				result[run.Tags[w.Tag]] += run.Tasks[i].Duration()
			}
		}
		return result
	})
}
