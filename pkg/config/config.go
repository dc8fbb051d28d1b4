// Package config loads, validates and writes the bot configuration from
// data/config.yml. Validation is schema-first: documents are checked against
// an embedded CUE definition before anything is decoded, so a config that
// fails validation never produces a partially populated Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed config_schema.cue
var configSchemaSrc string

//go:embed default_config.yml
var defaultConfigYAML []byte

// KeySalt hardens the control key before it is stretched into certificate
// material. Overwrite with a custom value during release builds.
var KeySalt = "mUxw0N0aLhV7qkXGVXsdEWYvT2DpluQH"

// Config is the bot configuration, decoded from data/config.yml with
// environment overrides applied on top.
type Config struct {
	Token           string   `json:"token" yaml:"token"`
	PrefixOrMention bool     `json:"prefix_or_mention" yaml:"prefix_or_mention"`
	Prefixes        []string `json:"prefixes" yaml:"prefixes"`
	EnabledPlugins  []string `json:"enabled_plugins" yaml:"enabled_plugins"`
	Control         Control  `json:"control" yaml:"control"`
	Log             Log      `json:"log" yaml:"log"`
}

// Control configures the admin socket served while the bot runs.
type Control struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Key     string `json:"key" yaml:"key"`
}

// GetKey returns the salted control key, or "" when no key is set.
func (c *Control) GetKey() string {
	if c.Key == "" {
		return ""
	}

	return KeySalt + c.Key
}

// Log configures the console log level. The file sink always records debug.
type Log struct {
	Level string `json:"level" yaml:"level"`
}

// Env carries environment overrides. Token and LogLevel are applied on top
// of the config file by Load, DataDir feeds the --data flag default.
type Env struct {
	Token    string `env:"HARNESS_TOKEN"`
	DataDir  string `env:"HARNESS_DATA_DIR"`
	LogLevel string `env:"HARNESS_LOG_LEVEL"`
}

// FromEnv reads the HARNESS_* environment overrides.
func FromEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("env.Parse(): %w", err)
	}

	return e, nil
}

var (
	botSchemaOnce sync.Once
	botSchemaVal  *Schema
	botSchemaErr  error
)

func botSchema() (*Schema, error) {
	botSchemaOnce.Do(func() {
		botSchemaVal, botSchemaErr = CompileSchema(configSchemaSrc, "#Config")
	})

	return botSchemaVal, botSchemaErr
}

// Load reads the config file at path, validates it against the schema and
// applies environment overrides. The returned error wraps fs.ErrNotExist
// when the file is missing so callers can trigger the first-run flow.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}

	schema, err := botSchema()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := schema.DecodeYAML(filepath.ToSlash(path), data, &cfg); err != nil {
		return nil, err
	}

	e, err := FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(e)

	return &cfg, nil
}

func (c *Config) applyEnv(e Env) {
	if e.Token != "" {
		c.Token = e.Token
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
}

// Save marshals the config and atomically replaces the file at path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("yaml.Marshal(): %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yml")
	if err != nil {
		return fmt.Errorf("os.CreateTemp(): %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("os.Rename(%s, %s): %w", tmp.Name(), path, err)
	}

	return nil
}

// WriteDefault writes the embedded default config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("os.Stat(%s): %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
		}
	}

	if err := os.WriteFile(path, defaultConfigYAML, 0600); err != nil {
		return fmt.Errorf("os.WriteFile(%s): %w", path, err)
	}

	return nil
}

// DefaultYAML returns the embedded default config document.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultConfigYAML))
	copy(out, defaultConfigYAML)

	return out
}
