// Package shared provides common CLI flag definitions and utility functions
// used across harness's command-line interface.
package shared

import (
	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable debug logging on the console.
const VerboseFlag = "verbose"

// DataDirFlag is the name of the flag selecting the bot's data directory.
const DataDirFlag = "data"

// GetCommonFlags returns the CLI flags every subcommand accepts.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Debug logging on the console",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
	}
}

// GetDataFlags returns the CLI flags for subcommands that work on the
// local data directory.
func GetDataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     DataDirFlag,
			Aliases:  []string{"d"},
			Usage:    "Data directory holding the config, plugins, storage and logs",
			Category: categoryCommon,
			Value:    "data",
			Sources:  cli.EnvVars("HARNESS_DATA_DIR"),
			Required: false,
		},
	}
}

const categoryAdmin = "admin"

// ConnectFlag is the name of the flag with the control listener to dial.
const ConnectFlag = "connect"

// KeyFlag is the name of the flag holding the control authentication key.
const KeyFlag = "key"

// GetAdminFlags returns the CLI flags for subcommands that dial the
// control listener of a running bot.
func GetAdminFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     ConnectFlag,
			Aliases:  []string{"c"},
			Usage:    "Control listener to dial, like tcp://127.0.0.1:7700 (supports tcp|ws|wss|udp)",
			Category: categoryAdmin,
			Value:    "tcp://127.0.0.1:7700",
			Required: false,
		},
		&cli.StringFlag{
			Name:     KeyFlag,
			Aliases:  []string{"k"},
			Usage:    "Key the control listener requires, leave empty when authentication is off",
			Category: categoryAdmin,
			Value:    "",
			Required: false,
		},
	}
}
