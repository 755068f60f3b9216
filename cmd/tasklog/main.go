package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		abortWithErr("tasklog failed", err)
	}
}

func abortWithErr(reason string, err error) {
	abort(fmt.Sprintf("%s: %v\n", reason, err))
}

func abort(reason string) {
	_, err := os.Stderr.WriteString(reason)
	if err != nil {
		panic(fmt.Sprintf("failed while writing error to terminal: %v", err))
	}
	os.Exit(1)
}
