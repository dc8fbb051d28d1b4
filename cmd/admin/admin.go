// Package admin implements the subcommands that talk to the control
// listener of a running bot: status, reload, tail and console.
package admin

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v3"

	"harnessbot/harness/cmd/shared"
	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/control"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/pipeio"
)

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Talk to the control listener of a running bot",
		Commands: []*cli.Command{
			statusCommand(),
			reloadCommand(),
			tailCommand(),
			consoleCommand(),
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show version, uptime, gateway and plugin state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, _, err := dial(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("status: %s", err)
			}

			renderStatus(os.Stdout, st)

			return nil
		},
		Flags: getFlags(),
	}
}

func reloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "reload",
		Usage:     "Reload one plugin",
		ArgsUsage: "plugin-id",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("which plugin? usage: harness admin reload <plugin-id>")
			}

			c, _, err := dial(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Reload(ctx, id); err != nil {
				return fmt.Errorf("reload: %s", err)
			}

			fmt.Printf("reloaded %s\n", id)

			return nil
		},
		Flags: getFlags(),
	}
}

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream the bot's log to this terminal",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return stream(ctx, cmd, (*control.Client).Tail)
		},
		Flags: getFlags(),
	}
}

func consoleCommand() *cli.Command {
	return &cli.Command{
		Name:  "console",
		Usage: "Type bot commands into this terminal, replies come back as lines",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return stream(ctx, cmd, (*control.Client).Console)
		},
		Flags: getFlags(),
	}
}

// stream dials, opens one stream and bridges it with the terminal until
// either side ends or the user interrupts.
func stream(ctx context.Context, cmd *cli.Command, open func(*control.Client, context.Context) (net.Conn, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shared.SetupSignalHandling(cancel)

	c, lgr, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := open(c, ctx)
	if err != nil {
		return fmt.Errorf("opening stream: %s", err)
	}

	pipeio.Pipe(ctx, pipeio.NewStdio(nil, nil), s, func(err error) {
		lgr.ErrorMsg("%s", err)
	})

	return nil
}

func dial(ctx context.Context, cmd *cli.Command) (*control.Client, *log.Logger, error) {
	lgr := log.New(log.Options{Verbose: cmd.Bool(shared.VerboseFlag)})

	spec, err := config.ParseListenSpec(cmd.String(shared.ConnectFlag))
	if err != nil {
		return nil, nil, err
	}

	c, err := control.Dial(ctx, spec, cmd.String(shared.KeyFlag), lgr)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %s", cmd.String(shared.ConnectFlag), err)
	}

	return c, lgr, nil
}

func getFlags() []cli.Flag {
	return append(shared.GetAdminFlags(), shared.GetCommonFlags()...)
}
