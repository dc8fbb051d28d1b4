package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"harnessbot/harness/cmd/admin"
	"harnessbot/harness/cmd/check"
	"harnessbot/harness/cmd/initialize"
	"harnessbot/harness/cmd/plugins"
	"harnessbot/harness/cmd/run"
	"harnessbot/harness/cmd/version"
)

func newRoot() *cli.Command {
	return &cli.Command{
		Name:  "harness",
		Usage: "Discord bot that hosts Lua plugins",
		Commands: []*cli.Command{
			run.GetCommand(),
			initialize.GetCommand(),
			check.GetCommand(),
			plugins.GetCommand(),
			admin.GetCommand(),
			version.GetCommand(),
		},
	}
}

func main() {
	if err := newRoot().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}
