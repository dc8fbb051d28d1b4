package run

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"harnessbot/harness/cmd/shared"
	"harnessbot/harness/pkg/bot"
)

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Connect to Discord and run the bot",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			shared.SetupSignalHandling(cancel)

			if err := bot.Run(ctx, cmd.String(shared.DataDirFlag), cmd.Bool(shared.VerboseFlag)); err != nil {
				return fmt.Errorf("running: %s", err)
			}

			return nil
		},
		Flags: append(shared.GetDataFlags(), shared.GetCommonFlags()...),
	}
}
