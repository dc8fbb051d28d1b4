package version

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	ver "harnessbot/harness/pkg/version"
)

func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Program and plugin API versions",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("harness %s (plugin api %s)\n", ver.Version, ver.APIVersion)
			return nil
		},
		Flags: []cli.Flag{},
	}
}
