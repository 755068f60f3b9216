package runlog

import (
	"fmt"
	"math"
)

// NoTags keys the untagged entry of every task in TasksInformation
const NoTags = "_NO_TAGS_"

// TasksBetween lists the tasks reachable from start without going past end, both included, in depth
// first order. start is expected to be an ancestor of end.
func (l *RunLog) TasksBetween(start, end int) []int {
	if start < 0 || start >= len(l.Tasks) {
		return nil
	}
	var result []int
	seen := map[int]bool{}
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		result = append(result, n)
		if n == end {
			continue
		}
		for _, c := range l.Tasks[n].Children {
			if !seen[c] {
				stack = append(stack, c)
			}
		}
	}
	return result
}

func (l *RunLog) subgraphDuration(s Subgraph) uint64 {
	var total uint64
	for _, t := range l.TasksBetween(s.StartTask, s.EndTask) {
		total += l.Tasks[t].Duration()
	}
	return total
}

// CountTasks maps each tag to the number of tasks its subgraphs spanned
func (l *RunLog) CountTasks() map[string]int {
	counts := map[string]int{}
	for _, s := range l.Subgraphs {
		counts[l.Tags[s.Tag]] += len(l.TasksBetween(s.StartTask, s.EndTask))
	}
	return counts
}

// TagStat sums the subgraphs of one tag
type TagStat struct {
	Work     uint64
	Duration uint64
	// Speed is work per nanosecond, normalised so the fastest tag of the run has speed 1
	Speed float64
}

// TagStats computes per tag the total work, the total duration of the tasks involved and the normalised
// speed
func (l *RunLog) TagStats() map[string]TagStat {
	stats := map[string]TagStat{}
	for _, s := range l.Subgraphs {
		tag := l.Tags[s.Tag]
		stat := stats[tag]
		stat.Work += s.Amount
		stat.Duration += l.subgraphDuration(s)
		stats[tag] = stat
	}

	best := 0.0
	for tag, stat := range stats {
		if stat.Duration > 0 {
			stat.Speed = float64(stat.Work) / float64(stat.Duration)
			stats[tag] = stat
		}
		best = math.Max(best, stat.Speed)
	}
	if best > 0 {
		for tag, stat := range stats {
			stat.Speed /= best
			stats[tag] = stat
		}
	}
	return stats
}

// TaskInformation describes a task when viewed under one tag
type TaskInformation struct {
	Label   string
	Opacity float64
}

// TasksInformation computes, for every task, a description per tag of the subgraphs containing it plus
// an untagged one under NoTags. Tasks of slow subgraphs get a lower opacity relative to the fastest
// subgraph of the same tag.
func (l *RunLog) TasksInformation() map[int]map[string]TaskInformation {
	type subgraphSpeed struct {
		speed    float64
		duration uint64
	}
	speeds := make([]subgraphSpeed, len(l.Subgraphs))
	best := map[int]float64{}
	for i, s := range l.Subgraphs {
		duration := l.subgraphDuration(s)
		speed := 0.0
		if duration > 0 {
			speed = float64(s.Amount) / float64(duration)
		}
		speeds[i] = subgraphSpeed{speed: speed, duration: duration}
		best[s.Tag] = math.Max(best[s.Tag], speed)
	}
	for i, s := range l.Subgraphs {
		if b := best[s.Tag]; b > 0 {
			speeds[i].speed /= b
		}
	}

	result := make(map[int]map[string]TaskInformation, len(l.Tasks))
	entry := func(task int) map[string]TaskInformation {
		if m, ok := result[task]; ok {
			return m
		}
		m := map[string]TaskInformation{}
		result[task] = m
		return m
	}

	// later subgraphs overwrite earlier ones so nested subgraphs of a tag win
	for i, s := range l.Subgraphs {
		for _, task := range l.TasksBetween(s.StartTask, s.EndTask) {
			record := &l.Tasks[task]
			part := uint64(0)
			if speeds[i].duration > 0 {
				part = uint64(math.Round(float64(s.Amount) * float64(record.Duration()) / float64(speeds[i].duration)))
			}
			entry(task)[l.Tags[s.Tag]] = TaskInformation{
				Label: fmt.Sprintf("task: %d\ncounted: %d/%d\nduration: %d (micro sec)\nspeed: %g\nthread: %d",
					task, part, s.Amount, record.Duration()/1000, speeds[i].speed, record.ThreadID),
				Opacity: 0.4 + speeds[i].speed*0.6,
			}
		}
	}
	for task := range l.Tasks {
		record := &l.Tasks[task]
		entry(task)[NoTags] = TaskInformation{
			Label: fmt.Sprintf("task: %d\nduration: %d (micro sec)\nthread: %d",
				task, record.Duration()/1000, record.ThreadID),
			Opacity: 1,
		}
	}
	return result
}

// Steals counts fork children that ran on another thread than their parent
func (l *RunLog) Steals() int {
	steals := 0
	for _, t := range l.Tasks {
		if len(t.Children) != 2 {
			continue
		}
		for _, c := range t.Children {
			if l.Tasks[c].ThreadID != t.ThreadID {
				steals++
			}
		}
	}
	return steals
}

// ScanTags adds the tags of l missing from tags, numbering them after the existing ones
func (l *RunLog) ScanTags(tags map[string]int) {
	for _, tag := range l.Tags {
		if _, ok := tags[tag]; !ok {
			tags[tag] = len(tags)
		}
	}
}

// UpdateTags renumbers the tags of l according to tags, which must number its keys from 0 without gaps
// and contain every tag of l
func (l *RunLog) UpdateTags(tags map[string]int) {
	for i := range l.Subgraphs {
		l.Subgraphs[i].Tag = tags[l.Tags[l.Subgraphs[i].Tag]]
	}
	for i := range l.Tasks {
		if w := &l.Tasks[i].Work; w.Kind != NoInformation {
			w.Tag = tags[l.Tags[w.Tag]]
		}
	}
	renamed := make([]string, len(tags))
	for tag, i := range tags {
		renamed[i] = tag
	}
	l.Tags = renamed
}
