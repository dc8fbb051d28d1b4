// Package plugins implements "harness plugins", listing what the bot
// could load: builtins compiled in, scripts found on disk, and broken
// plugin directories with their manifest errors.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
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
		Name:  "plugins",
		Usage: "List builtin and on-disk plugins",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return list(os.Stdout, cmd.String(shared.DataDirFlag), cmd.Bool(shared.VerboseFlag))
		},
		Flags: append(shared.GetDataFlags(), shared.GetCommonFlags()...),
	}
}

func list(w io.Writer, dataDir string, verbose bool) error {
	lgr := log.New(log.Options{Verbose: verbose})
	paths := bot.NewPaths(dataDir)

	// The config is optional here: before init there is still something
	// to list, the builtins.
	enabled := map[string]bool{}
	cfg, err := config.Load(paths.ConfigFile())
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("loading config: %s", err)
	default:
		for _, id := range cfg.EnabledPlugins {
			enabled[id] = true
		}
	}

	found, derrs, err := plugin.Discover(paths.PluginsDir(), lgr)
	if err != nil {
		return fmt.Errorf("scanning plugins: %s", err)
	}

	render(w, enabled, found, derrs, plugin.Builtins())

	return nil
}

// render prints one line per plugin: id, version, state, display name.
func render(w io.Writer, enabled map[string]bool, found map[string]plugin.Metadata, derrs map[string]error, builtins []string) {
	state := func(id string) string {
		if enabled[id] {
			return "enabled"
		}
		return "available"
	}

	for _, id := range builtins {
		fmt.Fprintf(w, "%-20s %-10s %-10s builtin\n", id, "-", state(id))
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		meta := found[id]
		fmt.Fprintf(w, "%-20s %-10s %-10s %s\n", id, meta.Version, state(id), meta.Name)
	}

	dirs := make([]string, 0, len(derrs))
	for dir := range derrs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		fmt.Fprintf(w, "%-20s %-10s %-10s %s\n", dir, "-", "broken", derrs[dir])
	}

	if len(builtins) == 0 && len(found) == 0 && len(derrs) == 0 {
		fmt.Fprintln(w, "no plugins found")
	}
}
