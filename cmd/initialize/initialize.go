// Package initialize implements "harness init", which lays out a fresh
// data directory: the tree, a default config, and a starter plugin.
package initialize

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"harnessbot/harness/cmd/shared"
	"harnessbot/harness/pkg/bot"
	"harnessbot/harness/pkg/config"
)

//go:embed example/plugin.yml
var exampleManifest []byte

//go:embed example/main.lua
var exampleScript []byte

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the data directory with a config to fill out and an example plugin",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return initialize(cmd.String(shared.DataDirFlag))
		},
		Flags: append(shared.GetDataFlags(), shared.GetCommonFlags()...),
	}
}

func initialize(dataDir string) error {
	paths := bot.NewPaths(dataDir)

	if err := paths.EnsureTree(); err != nil {
		return err
	}

	if _, err := os.Stat(paths.ConfigFile()); err == nil {
		return fmt.Errorf("%s already exists, edit it in place or pick a fresh data directory", paths.ConfigFile())
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("os.Stat(%s): %s", paths.ConfigFile(), err)
	}

	token, err := promptToken(os.Stdin)
	if err != nil {
		return err
	}

	if err := writeConfig(paths.ConfigFile(), token); err != nil {
		return err
	}

	if err := writeExamplePlugin(paths.PluginsDir()); err != nil {
		return err
	}

	fmt.Printf("Initialized %s\n", paths.Root())
	if token == "" {
		fmt.Printf("Put your Discord bot token into %s, then start the bot with: harness run\n", paths.ConfigFile())
	} else {
		fmt.Println("Start the bot with: harness run")
	}
	fmt.Println("Enable the example plugin by adding \"example\" to enabled_plugins.")

	return nil
}

// promptToken asks for the bot token without echoing it. Off a terminal
// there is nobody to ask, and the config keeps its empty token.
func promptToken(stdin *os.File) (string, error) {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Print("Discord bot token (leave empty to fill in later): ")
	tok, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading token: %s", err)
	}

	return strings.TrimSpace(string(tok)), nil
}

// writeConfig writes the default config. A token is spliced into the
// document text so the file keeps its comments.
func writeConfig(path, token string) error {
	if token == "" {
		return config.WriteDefault(path)
	}

	data := bytes.Replace(config.DefaultYAML(),
		[]byte(`token: ""`), []byte(fmt.Sprintf("token: %q", token)), 1)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("os.WriteFile(%s): %s", path, err)
	}

	return nil
}

// writeExamplePlugin drops the starter plugin into the plugins directory.
// An existing example directory is left alone.
func writeExamplePlugin(pluginsDir string) error {
	dir := filepath.Join(pluginsDir, "example")

	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("os.Stat(%s): %s", dir, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("os.MkdirAll(%s): %s", dir, err)
	}

	for name, data := range map[string][]byte{
		"plugin.yml": exampleManifest,
		"main.lua":   exampleScript,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("os.WriteFile(%s): %s", path, err)
		}
	}

	return nil
}
