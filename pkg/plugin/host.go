package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/store"
	"harnessbot/harness/pkg/version"
)

// HostConfig tells the host where plugins live and which ones to run.
type HostConfig struct {
	PluginsDir string   // script plugin packages, one directory per plugin
	ConfigDir  string   // per-plugin config files, <id>.yml
	StorageDir string   // per-plugin scratch space, <id>/
	Enabled    []string // ids from the bot config, in load order

	// ScriptFactory builds an instance from a discovered manifest. The
	// Lua engine plugs in here; a nil factory loads builtins only.
	ScriptFactory func(meta Metadata, dir string) Plugin
}

type instance struct {
	plugin Plugin
	meta   Metadata
	api    *API
}

// Host owns plugin discovery and lifecycle.
type Host struct {
	cfg      HostConfig
	registry *command.Registry
	api      *discord.Client
	st       *store.Store
	lgr      *log.Logger

	mu       sync.Mutex
	loaded   map[string]*instance
	order    []string // successful load order, unloaded in reverse
	hooks    map[string][]MessageHook
	failures map[string]error // last load error per id, cleared on success
}

// NewHost wires a host. The store and REST client may be nil in tests.
func NewHost(cfg HostConfig, registry *command.Registry, api *discord.Client, st *store.Store, lgr *log.Logger) *Host {
	return &Host{
		cfg:      cfg,
		registry: registry,
		api:      api,
		st:       st,
		lgr:      lgr.Named("plugin"),
		loaded:   map[string]*instance{},
		hooks:    map[string][]MessageHook{},
		failures: map[string]error{},
	}
}

// Discover scans dir for plugin packages. Directories without a
// plugin.yml are skipped with a warning; manifests that fail to parse
// come back as per-directory errors so one broken plugin cannot hide the
// rest. A missing dir is simply empty.
func Discover(dir string, lgr *log.Logger) (map[string]Metadata, map[string]error, error) {
	found := map[string]Metadata{}
	derrs := map[string]error{}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return found, derrs, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("os.ReadDir(%s): %w", dir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(sub, manifestName)); errors.Is(err, fs.ErrNotExist) {
			lgr.WarnMsg("skipping non-plugin directory: %s", sub)
			continue
		}

		meta, err := LoadManifest(sub)
		if err != nil {
			derrs[e.Name()] = err
			continue
		}
		found[meta.ID] = meta
	}

	return found, derrs, nil
}

// LoadAll loads every enabled plugin concurrently. Individual failures
// are collected and reported; only all of them failing is an error.
func (h *Host) LoadAll(ctx context.Context) error {
	enabled := h.cfg.Enabled
	if len(enabled) == 0 {
		h.lgr.InfoMsg("no plugins enabled")
		return nil
	}

	discovered, derrs, err := Discover(h.cfg.PluginsDir, h.lgr)
	if err != nil {
		return err
	}

	h.lgr.InfoMsg("loading %d plugins", len(enabled))

	type outcome struct {
		id  string
		err error
	}
	results := make(chan outcome, len(enabled))
	for _, id := range enabled {
		go func(id string) {
			results <- outcome{id: id, err: h.loadOne(ctx, id, discovered, derrs)}
		}(id)
	}

	failures := map[string]error{}
	for range enabled {
		if res := <-results; res.err != nil {
			failures[res.id] = res.err
		}
	}

	var ok []string
	for _, id := range enabled {
		if _, failed := failures[id]; !failed {
			ok = append(ok, id)
		}
	}

	h.mu.Lock()
	h.order = ok
	h.failures = failures
	h.mu.Unlock()

	if len(ok) > 0 {
		h.lgr.InfoMsg("loaded: %s", strings.Join(ok, ", "))
	}
	for _, id := range enabled {
		if err, failed := failures[id]; failed {
			h.lgr.ErrorMsg("failed to load plugin %s: %s", id, err)
		}
	}

	if len(failures) == len(enabled) {
		return fmt.Errorf("all %d plugins failed to load", len(enabled))
	}
	if len(failures) > 0 {
		h.lgr.WarnMsg("%d of %d plugins failed to load", len(failures), len(enabled))
	}

	return nil
}

// Reload tears one plugin down and loads it fresh from its current
// source, so script edits and config changes take effect. A plugin that
// failed at startup can be brought up this way too.
func (h *Host) Reload(ctx context.Context, id string) error {
	h.mu.Lock()
	inst, wasLoaded := h.loaded[id]
	h.mu.Unlock()

	if wasLoaded {
		if err := safeUnload(ctx, inst.plugin); err != nil {
			h.lgr.WarnMsg("unloading %s before reload: %s", id, err)
		}
		h.forget(id)
	}

	discovered, derrs, err := Discover(h.cfg.PluginsDir, h.lgr)
	if err != nil {
		return err
	}

	if err := h.loadOne(ctx, id, discovered, derrs); err != nil {
		h.removeFromOrder(id)
		h.mu.Lock()
		h.failures[id] = err
		h.mu.Unlock()
		return fmt.Errorf("reloading %s: %w", id, err)
	}

	h.mu.Lock()
	if !containsString(h.order, id) {
		h.order = append(h.order, id)
	}
	delete(h.failures, id)
	h.mu.Unlock()

	h.lgr.InfoMsg("reloaded plugin %s", id)

	return nil
}

// UnloadAll unloads every plugin in reverse load order. Unload errors
// are logged, not returned; shutdown proceeds regardless.
func (h *Host) UnloadAll(ctx context.Context) {
	h.mu.Lock()
	order := make([]string, len(h.order))
	copy(order, h.order)
	h.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]

		h.mu.Lock()
		inst, loaded := h.loaded[id]
		h.mu.Unlock()
		if !loaded {
			continue
		}

		if err := safeUnload(ctx, inst.plugin); err != nil {
			h.lgr.WarnMsg("unloading %s: %s", id, err)
		}
		h.forget(id)
	}

	h.mu.Lock()
	h.order = nil
	h.mu.Unlock()
}

// Loaded returns metadata for the live plugins, sorted by id.
func (h *Host) Loaded() []Metadata {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Metadata, 0, len(h.loaded))
	for _, inst := range h.loaded {
		out = append(out, inst.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// State describes one plugin for status reporting: its metadata when
// known, whether it is live, and the last load error when it is not.
type State struct {
	ID     string
	Meta   Metadata
	Loaded bool
	Err    error
}

// States reports every enabled plugin in configured order, followed by
// any plugin a reload brought up outside the enabled list.
func (h *Host) States() []State {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]State, 0, len(h.cfg.Enabled))
	for _, id := range h.cfg.Enabled {
		st := State{ID: id}
		if inst, ok := h.loaded[id]; ok {
			st.Meta = inst.meta
			st.Loaded = true
		} else {
			st.Err = h.failures[id]
		}
		out = append(out, st)
	}

	var extras []string
	for id := range h.loaded {
		if !containsString(h.cfg.Enabled, id) {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)
	for _, id := range extras {
		out = append(out, State{ID: id, Meta: h.loaded[id].meta, Loaded: true})
	}

	return out
}

// EmitMessage fans one message out to every subscribed hook. Hook panics
// are contained.
func (h *Host) EmitMessage(ctx context.Context, msg *discord.Message) {
	h.mu.Lock()
	var hooks []MessageHook
	for _, hs := range h.hooks {
		hooks = append(hooks, hs...)
	}
	h.mu.Unlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.lgr.ErrorMsg("message hook panicked: %v", r)
				}
			}()
			hook(ctx, msg)
		}()
	}
}

func (h *Host) loadOne(ctx context.Context, id string, discovered map[string]Metadata, derrs map[string]error) error {
	inst, meta, err := h.instantiate(id, discovered, derrs)
	if err != nil {
		return err
	}

	if errs := meta.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid metadata: %s", joinErrors(errs))
	}
	if err := h.checkRequirements(meta); err != nil {
		return err
	}

	api, err := h.provision(meta)
	if err != nil {
		return err
	}

	if err := safeLoad(ctx, inst, api); err != nil {
		// Sweep whatever the failed load managed to register.
		h.registry.UnregisterPlugin(id)
		h.dropHooks(id)
		return err
	}

	h.mu.Lock()
	h.loaded[id] = &instance{plugin: inst, meta: meta, api: api}
	h.mu.Unlock()

	return nil
}

func (h *Host) instantiate(id string, discovered map[string]Metadata, derrs map[string]error) (Plugin, Metadata, error) {
	if f, ok := builtinFactory(id); ok {
		p := f()
		meta := p.Meta()
		if meta.ID != id {
			return nil, meta, fmt.Errorf("builtin registered as %q reports id %q", id, meta.ID)
		}
		return p, meta, nil
	}

	if meta, ok := discovered[id]; ok {
		if h.cfg.ScriptFactory == nil {
			return nil, meta, fmt.Errorf("script plugins are not enabled")
		}
		return h.cfg.ScriptFactory(meta, filepath.Join(h.cfg.PluginsDir, id)), meta, nil
	}

	if derr, ok := derrs[id]; ok {
		return nil, Metadata{}, derr
	}

	return nil, Metadata{}, fmt.Errorf("no builtin or discovered plugin %q", id)
}

// checkRequirements matches the manifest's constraints against the
// running harness and plugin API versions. Dev builds carry no harness
// version, so that constraint is skipped rather than failed.
func (h *Host) checkRequirements(meta Metadata) error {
	keys := make([]string, 0, len(meta.Requires))
	for k := range meta.Requires {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		expr := meta.Requires[k]
		c, err := version.ParseConstraint(expr)
		if err != nil {
			return fmt.Errorf("requirement %q: %w", k, err)
		}

		var actual string
		switch k {
		case "harness":
			actual = version.Runtime()
			if actual == "" {
				h.lgr.DebugMsg("%s: skipping harness requirement %q on a dev build", meta.ID, expr)
				continue
			}
		case "api":
			actual = version.APIVersion
		default:
			return fmt.Errorf("unknown requirement %q", k)
		}

		if !c.Match(actual) {
			return fmt.Errorf("requires %s %q, have %s", k, expr, actual)
		}
	}

	return nil
}

func (h *Host) provision(meta Metadata) (*API, error) {
	dataDir := filepath.Join(h.cfg.StorageDir, meta.ID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll(%s): %w", dataDir, err)
	}

	api := &API{
		Log:     h.lgr.Named(meta.ID),
		DataDir: dataDir,
		Discord: h.api,
		host:    h,
		id:      meta.ID,
	}
	if h.st != nil {
		api.Bucket = h.st.Bucket(meta.ID)
	}

	if meta.DefaultConfig != "" {
		cfg, err := h.loadPluginConfig(meta)
		if err != nil {
			return nil, fmt.Errorf("loading config for plugin %s: %w", meta.ID, err)
		}
		api.Config = cfg
	}

	return api, nil
}

// loadPluginConfig seeds data/config/<id>.yml from the plugin's default
// on first load, then decodes it, strictly when the plugin ships a
// schema.
func (h *Host) loadPluginConfig(meta Metadata) (map[string]interface{}, error) {
	path := filepath.Join(h.cfg.ConfigDir, meta.ID+".yml")

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(h.cfg.ConfigDir, 0o755); err != nil {
			return nil, fmt.Errorf("os.MkdirAll(%s): %w", h.cfg.ConfigDir, err)
		}
		if err := os.WriteFile(path, []byte(meta.DefaultConfig), 0o600); err != nil {
			return nil, fmt.Errorf("os.WriteFile(%s): %w", path, err)
		}
		h.lgr.InfoMsg("seeded default config for %s at %s", meta.ID, path)
	} else if err != nil {
		return nil, fmt.Errorf("os.Stat(%s): %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}

	out := map[string]interface{}{}
	if meta.ConfigSchema != "" {
		sch, err := config.CompileSchema(meta.ConfigSchema, "#Config")
		if err != nil {
			return nil, fmt.Errorf("config schema: %w", err)
		}
		if err := sch.DecodeYAML(filepath.ToSlash(path), data, &out); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal(%s): %w", path, err)
	}

	return out, nil
}

// forget drops a plugin's registrations and live entry. Safe to call for
// ids that are not loaded.
func (h *Host) forget(id string) {
	h.registry.UnregisterPlugin(id)
	h.dropHooks(id)

	h.mu.Lock()
	delete(h.loaded, id)
	h.mu.Unlock()
}

func (h *Host) addHook(id string, hook MessageHook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hooks[id] = append(h.hooks[id], hook)
}

func (h *Host) dropHooks(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.hooks, id)
}

func (h *Host) removeFromOrder(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, have := range h.order {
		if have == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func safeLoad(ctx context.Context, p Plugin, api *API) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load panicked: %v", r)
		}
	}()

	return p.Load(ctx, api)
}

func safeUnload(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unload panicked: %v", r)
		}
	}()

	return p.Unload(ctx)
}
