package pool

import (
	"cmp"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/exp/slices"

	"github.com/omaskery/tasklog/pkg/runlog"
	"github.com/omaskery/tasklog/pkg/stats"
)

// DefaultRunsNumber is how many times a comparator runs each algorithm unless told otherwise
const DefaultRunsNumber = 100

// Comparator runs several algorithms repeatedly on a pool and compares their traces. The first failure
// stops further runs and is reported by Err.
type Comparator struct {
	pool       *ThreadPool
	runsNumber int
	labels     []string
	logs       [][]*runlog.RunLog
	err        error
}

// Compare starts a comparison on p
func (p *ThreadPool) Compare() *Comparator {
	return &Comparator{
		pool:       p,
		runsNumber: DefaultRunsNumber,
	}
}

// RunsNumber sets how many times each algorithm attached afterwards runs
func (c *Comparator) RunsNumber(n int) *Comparator {
	c.runsNumber = n
	return c
}

// AttachAlgorithm records runsNumber runs of algorithm under label
func (c *Comparator) AttachAlgorithm(label string, algorithm func(ctx *Context)) *Comparator {
	return AttachAlgorithmWithSetup(c, label, func() struct{} { return struct{}{} }, func(ctx *Context, _ struct{}) {
		algorithm(ctx)
	})
}

// AttachAlgorithmWithSetup is AttachAlgorithm with an input prepared by setup, outside of the trace,
// before every run
func AttachAlgorithmWithSetup[I any](c *Comparator, label string, setup func() I, algorithm func(ctx *Context, input I)) *Comparator {
	if c.err != nil {
		return c
	}
	if c.runsNumber < 1 {
		c.err = fmt.Errorf("%w: %d runs for %q", stats.ErrNoRuns, c.runsNumber, label)
		return c
	}

	runs := make([]*runlog.RunLog, 0, c.runsNumber)
	for i := 0; i < c.runsNumber; i++ {
		input := setup()
		_, log, err := LoggingInstall(c.pool, func(ctx *Context) struct{} {
			algorithm(ctx, input)
			return struct{}{}
		})
		if err != nil {
			c.err = fmt.Errorf("run %d of %q: %w", i, label, err)
			return c
		}
		runs = append(runs, log)
	}
	slices.SortStableFunc(runs, func(a, b *runlog.RunLog) int {
		return cmp.Compare(a.Duration, b.Duration)
	})
	c.pool.logger.V(1).Info("algorithm recorded", "label", label, "runs", len(runs),
		"fastest", runs[0].Duration, "slowest", runs[len(runs)-1].Duration)

	c.labels = append(c.labels, label)
	c.logs = append(c.logs, runs)
	return c
}

func (c *Comparator) Err() error {
	return c.err
}

func (c *Comparator) Labels() []string {
	return c.labels
}

// Logs returns, per algorithm, its run logs sorted by duration
func (c *Comparator) Logs() [][]*runlog.RunLog {
	return c.logs
}

// Stats aggregates the recorded runs
func (c *Comparator) Stats() (*stats.Stats, error) {
	if c.err != nil {
		return nil, c.err
	}
	return stats.New(c.logs)
}

// WriteSummary writes a table of mean and median statistics, one row per algorithm
func (c *Comparator) WriteSummary(w io.Writer) error {
	s, err := c.Stats()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := []string{"algorithm", "mean time", "median time", "mean idle", "median idle", "median tasks"}
	for _, tag := range s.Tags() {
		header = append(header, tag+" (work/time/speed)")
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	means, medians := s.TotalTimes(), s.TotalTimesMedian()
	idles, idlesMedian := s.IdleTimes(), s.IdleTimesMedian()
	tasks := s.MedianTaskCounts()
	tagged := s.MedianTaggedStats()
	for i, label := range c.labels {
		row := []string{
			label,
			timeString(means[i]),
			timeString(medians[i]),
			timeString(idles[i]),
			timeString(idlesMedian[i]),
			fmt.Sprint(tasks[i]),
		}
		for _, tag := range s.Tags() {
			stat := tagged[i][tag]
			row = append(row, fmt.Sprintf("%d/%s/%.2f", stat.Work, timeString(stat.Duration), stat.Speed))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// timeString renders nanoseconds with the largest unit keeping an integer part
func timeString(ns uint64) string {
	units := []string{"ns", "us", "ms", "s"}
	value := float64(ns)
	unit := 0
	for value >= 1000 && unit < len(units)-1 {
		value /= 1000
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d%s", ns, units[0])
	}
	return fmt.Sprintf("%.2f%s", value, units[unit])
}
