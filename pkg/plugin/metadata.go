package plugin

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/version"
)

const (
	manifestName      = "plugin.yml"
	defaultConfigName = "default_config.yml"
	configSchemaName  = "config_schema.cue"
)

//go:embed manifest_schema.cue
var manifestSchemaSrc string

var (
	manifestOnce sync.Once
	manifestSch  *config.Schema
	manifestErr  error
)

func manifestSchema() (*config.Schema, error) {
	manifestOnce.Do(func() {
		manifestSch, manifestErr = config.CompileSchema(manifestSchemaSrc, "#Manifest")
	})
	return manifestSch, manifestErr
}

// Metadata describes a plugin: identity, version, and what it ships.
// Script plugins read it from plugin.yml, builtins carry it in code.
type Metadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Entry       string `json:"entry"`
	Description string `json:"description"`

	// Requires maps "harness" and "api" to version constraints.
	Requires map[string]string `json:"requires"`

	// DefaultConfig is the YAML seeded into data/config/<id>.yml on first
	// load. ConfigSchema, when set, strictly validates the loaded config.
	DefaultConfig string `json:"-"`
	ConfigSchema  string `json:"-"`
}

var idRuns = regexp.MustCompile(`[-_.]+`)

// NormalizeID folds a plugin name into its canonical id: NFKC, runs of
// '-', '_' and '.' collapsed to a single underscore, lowercased.
func NormalizeID(name string) string {
	s := norm.NFKC.String(name)
	s = idRuns.ReplaceAllString(s, "_")

	return strings.ToLower(s)
}

// Validate checks the rules every plugin must meet, builtin or scripted.
func (m Metadata) Validate() []error {
	var errs []error

	switch {
	case m.ID == "":
		errs = append(errs, fmt.Errorf("plugin id is empty"))
	case m.ID != NormalizeID(m.ID):
		errs = append(errs, fmt.Errorf("plugin id %q is not normalized (want %q)", m.ID, NormalizeID(m.ID)))
	}

	if m.Name == "" {
		errs = append(errs, fmt.Errorf("plugin has no display name"))
	}

	if !version.IsValid(m.Version) {
		errs = append(errs, fmt.Errorf("invalid plugin version %q", m.Version))
	}

	keys := make([]string, 0, len(m.Requires))
	for k := range m.Requires {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := version.ParseConstraint(m.Requires[k]); err != nil {
			errs = append(errs, fmt.Errorf("requirement %q: %w", k, err))
		}
	}

	if m.ConfigSchema != "" && m.DefaultConfig == "" {
		errs = append(errs, fmt.Errorf("plugin declares a config schema but ships no %s", defaultConfigName))
	}

	return errs
}

// LoadManifest reads and validates <dir>/plugin.yml, picking up the
// optional default config and config schema next to it. The manifest id
// must match the directory name.
func LoadManifest(dir string) (Metadata, error) {
	var meta Metadata

	path := filepath.Join(dir, manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}

	sch, err := manifestSchema()
	if err != nil {
		return meta, err
	}
	if err := sch.DecodeYAML(filepath.ToSlash(path), data, &meta); err != nil {
		return meta, err
	}

	meta.DefaultConfig, err = readSidecar(dir, defaultConfigName)
	if err != nil {
		return meta, err
	}
	meta.ConfigSchema, err = readSidecar(dir, configSchemaName)
	if err != nil {
		return meta, err
	}

	if errs := meta.Validate(); len(errs) > 0 {
		return meta, fmt.Errorf("invalid manifest %s: %s", path, joinErrors(errs))
	}
	if base := filepath.Base(dir); meta.ID != base {
		return meta, fmt.Errorf("plugin id %q does not match its directory %q", meta.ID, base)
	}

	return meta, nil
}

func readSidecar(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("os.ReadFile(%s): %w", filepath.Join(dir, name), err)
	}

	return string(data), nil
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}

	return strings.Join(parts, "; ")
}
