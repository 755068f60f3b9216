package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"github.com/omaskery/tasklog/pkg/forkjoin"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print a summary of a raw or run log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := loadRunLog(args[0])
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		g, err := forkjoin.Build(log)
		if err != nil {
			return fmt.Errorf("failed to build fork-join graph: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "threads: %d\n", log.ThreadsNumber)
		fmt.Fprintf(out, "duration: %dns\n", log.Duration)
		fmt.Fprintf(out, "tasks: %d in %d sequences (%d roots)\n", len(log.Tasks), g.SequenceCount(), len(g.Roots))
		fmt.Fprintf(out, "steals: %d\n", log.Steals())
		fmt.Fprintf(out, "idle: %dns\n", forkjoin.IdleTime(log))

		stats := log.TagStats()
		counts := log.CountTasks()
		tags := make([]string, 0, len(stats))
		for tag := range stats {
			tags = append(tags, tag)
		}
		slices.Sort(tags)
		for _, tag := range tags {
			s := stats[tag]
			fmt.Fprintf(out, "tag %q: work %d, duration %dns, speed %.2f, tasks %d\n",
				tag, s.Work, s.Duration, s.Speed, counts[tag])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
