package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/omaskery/tasklog/pkg/pool"
)

var (
	threads    int
	inputSize  int
	grain      int
	runsNumber int
	output     string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Trace a parallel sum and save its raw logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pool.New(
			pool.WithNumThreads(threads),
			pool.WithLogsFilename(output),
			pool.WithLogger(logger.WithName("pool")),
		)
		if err != nil {
			return err
		}

		input := sequence(inputSize)
		total, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) uint64 {
			return parallelSum(ctx, input, grain)
		})
		if err != nil {
			_ = p.Close()
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sum %d computed by %d tasks in %dns\n", total, len(log.Tasks), log.Duration)

		if err := p.Close(); err != nil {
			return err
		}
		logger.Info("saved raw logs", "path", output)
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare sequential and parallel sums over repeated traced runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pool.New(
			pool.WithNumThreads(threads),
			pool.WithLogger(logger.WithName("pool")),
		)
		if err != nil {
			return err
		}
		defer p.Close()

		input := sequence(inputSize)
		comparator := p.Compare().
			RunsNumber(runsNumber).
			AttachAlgorithm("sequential", func(ctx *pool.Context) {
				pool.Subgraph(ctx, "sum", uint64(len(input)), func(*pool.Context) uint64 {
					return sequentialSum(input)
				})
			}).
			AttachAlgorithm("parallel", func(ctx *pool.Context) {
				parallelSum(ctx, input, grain)
			})
		return comparator.WriteSummary(cmd.OutOrStdout())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{recordCmd, compareCmd} {
		cmd.Flags().IntVar(&threads, "threads", runtime.GOMAXPROCS(0), "number of worker threads")
		cmd.Flags().IntVar(&inputSize, "size", 1_000_000, "number of values to sum")
		cmd.Flags().IntVar(&grain, "grain", 10_000, "largest slice summed sequentially")
		rootCmd.AddCommand(cmd)
	}
	recordCmd.Flags().StringVarP(&output, "output", "o", "sum.rlog.sz", "raw log file to write")
	compareCmd.Flags().IntVar(&runsNumber, "runs", 20, "runs per algorithm")
}
