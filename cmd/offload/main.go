// Package main implements the offload command. It runs downloads,
// transcriptions and uploads in dedicated executors, serves their status
// and doubles as the worker process the executors spawn.
package main

import (
	"fmt"
	"os"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
