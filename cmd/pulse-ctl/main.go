// Package main is the entry point for the pulse-ctl CLI tool.
package main

import (
	"fmt"
	"os"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// Set build information for the version command
	Version = version
	Commit = commit
	BuildTime = buildTime

	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
