package main

import (
	"os"

	"github.com/agentx-labs/abt/internal/cli"
	"github.com/agentx-labs/abt/internal/diag"
)

// version, commit, and date are set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		cli.PrintErrors(os.Stderr, err)
		os.Exit(diag.ExitCode(err))
	}
}
