package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omaskery/tasklog/pkg/runlog"
	"github.com/omaskery/tasklog/pkg/tef"
)

var (
	jsonOutput     string
	tefOutput      string
	tefArrayOutput string
)

var convertCmd = &cobra.Command{
	Use:   "convert FILE",
	Short: "Reconstruct a raw log and write it as a JSON run log or a Trace Event Format file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput == "" && tefOutput == "" && tefArrayOutput == "" {
			return errors.New("nothing to do: set --json, --tef or --tef-array")
		}
		log, err := loadRunLog(args[0])
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}

		if jsonOutput != "" {
			if err := log.Save(jsonOutput); err != nil {
				return err
			}
			logger.Info("wrote run log", "path", jsonOutput)
		}
		if tefOutput != "" {
			if err := writeTef(tefOutput, log); err != nil {
				return err
			}
			logger.Info("wrote trace", "path", tefOutput)
		}
		if tefArrayOutput != "" {
			if err := writeTefArray(tefArrayOutput, log); err != nil {
				return err
			}
			logger.Info("wrote trace", "path", tefArrayOutput, "format", "array")
		}
		return nil
	},
}

func writeTef(path string, log *runlog.RunLog) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close trace file: %w", closeErr)
		}
	}()
	return tef.Export(f, log)
}

func writeTefArray(path string, log *runlog.RunLog) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close trace file: %w", closeErr)
		}
	}()
	return tef.ExportArray(f, log)
}

func init() {
	convertCmd.Flags().StringVar(&jsonOutput, "json", "", "path of the JSON run log to write")
	convertCmd.Flags().StringVar(&tefOutput, "tef", "", "path of the Trace Event Format file to write")
	convertCmd.Flags().StringVar(&tefArrayOutput, "tef-array", "", "path of the Trace Event Format file to write as a bare event array")
	rootCmd.AddCommand(convertCmd)
}
