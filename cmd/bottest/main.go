// The bottest binary manages ephemeral PostgreSQL, MinIO, and Redis
// environments for integration testing. All behavior lives in
// internal/cli; this file only injects build metadata and runs the
// command tree.
package main

import (
	"github.com/GeneralBots/bottest/internal/cli"
)

// Overridden through ldflags on release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
