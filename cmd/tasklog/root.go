package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"

	"github.com/omaskery/tasklog/pkg/rawlog"
	"github.com/omaskery/tasklog/pkg/runlog"
)

var verbosity int

var logger = logr.Discard()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "tasklog",
	Short:         "Inspect and convert fork-join execution traces",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = funcr.New(func(prefix, args string) {
			if prefix != "" {
				fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			} else {
				fmt.Fprintln(os.Stderr, args)
			}
		}, funcr.Options{Verbosity: verbosity})
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity, may be repeated")
}

// loadRunLog reads a JSON run log, or reconstructs one from a raw log for any other extension
func loadRunLog(path string) (*runlog.RunLog, error) {
	if strings.HasSuffix(path, ".json") {
		return runlog.Load(path)
	}
	raw, err := rawlog.Load(path)
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("loaded raw logs", "path", path, "threads", len(raw.ThreadEvents), "events", raw.EventCount())
	return runlog.Reconstruct(raw)
}
