// Package check implements "harness check", a dry run over the local
// data directory: config and plugin manifests are validated without
// touching Discord.
package check

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/urfave/cli/v3"

	"harnessbot/harness/cmd/shared"
	"harnessbot/harness/pkg/bot"
	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/plugin"
)

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the config and plugin manifests without connecting",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return check(cmd.String(shared.DataDirFlag), cmd.Bool(shared.VerboseFlag))
		},
		Flags: append(shared.GetDataFlags(), shared.GetCommonFlags()...),
	}
}

func check(dataDir string, verbose bool) error {
	lgr := log.New(log.Options{Verbose: verbose})
	paths := bot.NewPaths(dataDir)

	cfg, err := config.Load(paths.ConfigFile())
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no config at %s, run 'harness init' first", paths.ConfigFile())
	}
	if err != nil {
		return fmt.Errorf("loading config: %s", err)
	}

	problems := cfg.Validate()

	found, derrs, err := plugin.Discover(paths.PluginsDir(), lgr)
	if err != nil {
		return fmt.Errorf("scanning plugins: %s", err)
	}

	dirs := make([]string, 0, len(derrs))
	for dir := range derrs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		problems = append(problems, fmt.Errorf("plugin %s: %s", dir, derrs[dir]))
	}

	builtin := map[string]bool{}
	for _, id := range plugin.Builtins() {
		builtin[id] = true
	}
	for _, id := range cfg.EnabledPlugins {
		if _, ok := found[id]; ok || builtin[id] {
			continue
		}
		problems = append(problems, fmt.Errorf("enabled plugin %q does not exist", id))
	}

	if len(problems) > 0 {
		lgr.ErrorMsg("Problems:")
		for _, p := range problems {
			lgr.ErrorMsg(" - %s", p)
		}
		return fmt.Errorf("check failed")
	}

	fmt.Printf("Config OK: %d plugins on disk, %d enabled.\n", len(found), len(cfg.EnabledPlugins))

	return nil
}
