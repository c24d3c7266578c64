// Package main is the entry point for the tidesync engine.
package main

import (
	"os"

	"github.com/kwestra/tidesync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
