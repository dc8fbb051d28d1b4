// Package plugin hosts the bot's plugins: builtin Go plugins registered at
// compile time and script plugins discovered on disk. The host provisions
// per-plugin config and storage, enforces version requirements, and owns
// the load/reload/unload lifecycle.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/store"
)

// Plugin is one unit the host loads. Load receives the provisioned API;
// Unload must release whatever Load claimed.
type Plugin interface {
	Meta() Metadata
	Load(ctx context.Context, api *API) error
	Unload(ctx context.Context) error
}

// MessageHook observes every incoming chat message, command or not.
type MessageHook func(ctx context.Context, msg *discord.Message)

// API is what a loaded plugin works with. The host builds one per plugin.
type API struct {
	// Log is named after the plugin, e.g. harness.plugin.dice.
	Log *log.Logger

	// Config holds the plugin's decoded config file, nil for plugins
	// without one.
	Config map[string]interface{}

	// DataDir is the plugin's private storage directory.
	DataDir string

	// Bucket is the plugin's key/value namespace in the bot database.
	Bucket *store.Bucket

	// Discord is the shared REST client.
	Discord *discord.Client

	host *Host
	id   string
}

// ID returns the owning plugin's id.
func (a *API) ID() string {
	return a.id
}

// RegisterCommand adds a chat command owned by this plugin. The plugin id
// is stamped on so an unload sweeps the command away.
func (a *API) RegisterCommand(cmd *command.Command) error {
	cmd.Plugin = a.id
	if err := a.host.registry.Register(cmd); err != nil {
		return fmt.Errorf("plugin %s: %w", a.id, err)
	}

	return nil
}

// OnMessage subscribes a hook to all incoming messages. Hooks die with
// the plugin on unload.
func (a *API) OnMessage(hook MessageHook) {
	a.host.addHook(a.id, hook)
}

// Factory builds a fresh builtin plugin instance.
type Factory func() Plugin

var (
	builtinMu    sync.Mutex
	builtinOrder []string
	builtinReg   = map[string]Factory{}
)

// RegisterBuiltin adds a compiled-in plugin under its id. Builtin plugin
// packages call this from init; a duplicate id is a programming error and
// panics before the bot comes up.
func RegisterBuiltin(id string, f Factory) {
	builtinMu.Lock()
	defer builtinMu.Unlock()

	if id != NormalizeID(id) {
		panic(fmt.Sprintf("builtin plugin id %q is not normalized", id))
	}
	if _, dup := builtinReg[id]; dup {
		panic(fmt.Sprintf("builtin plugin %q registered twice", id))
	}

	builtinReg[id] = f
	builtinOrder = append(builtinOrder, id)
}

// Builtins returns the registered builtin ids in registration order.
func Builtins() []string {
	builtinMu.Lock()
	defer builtinMu.Unlock()

	out := make([]string, len(builtinOrder))
	copy(out, builtinOrder)

	return out
}

func builtinFactory(id string) (Factory, bool) {
	builtinMu.Lock()
	defer builtinMu.Unlock()

	f, ok := builtinReg[id]

	return f, ok
}
