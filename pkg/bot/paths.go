package bot

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths locates everything inside a harness data directory.
type Paths struct {
	root string
}

// NewPaths wraps a data directory root.
func NewPaths(root string) Paths {
	return Paths{root: root}
}

// Root returns the data directory itself.
func (p Paths) Root() string { return p.root }

// ConfigFile is the bot config, config.yml.
func (p Paths) ConfigFile() string { return filepath.Join(p.root, "config.yml") }

// PluginsDir holds one directory per script plugin.
func (p Paths) PluginsDir() string { return filepath.Join(p.root, "plugins") }

// PluginConfigDir holds per-plugin config files, <id>.yml.
func (p Paths) PluginConfigDir() string { return filepath.Join(p.root, "config") }

// StorageDir holds per-plugin scratch directories.
func (p Paths) StorageDir() string { return filepath.Join(p.root, "storage") }

// LogsDir holds latest.log and its rotated predecessors.
func (p Paths) LogsDir() string { return filepath.Join(p.root, "logs") }

// StoreFile is the SQLite database.
func (p Paths) StoreFile() string { return filepath.Join(p.root, "harness.db") }

// EnsureTree creates the data directory tree. Existing directories are
// left alone.
func (p Paths) EnsureTree() error {
	dirs := []string{
		p.root,
		p.PluginsDir(),
		p.PluginConfigDir(),
		p.StorageDir(),
		p.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
		}
	}

	return nil
}
