// Package script runs Lua plugins. Each plugin gets its own interpreter
// state with a harness bridge for logging, config and storage; the entry
// script returns a table describing commands and lifecycle hooks, and the
// engine wires those into the host.
package script

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Shopify/go-lua"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/plugin"
)

// pluginGlobal holds the table the entry script returned. Scripts must
// leave it alone.
const pluginGlobal = "__harness_plugin"

// defaultEntry is the entry file when the manifest names none.
const defaultEntry = "main.lua"

// luaPlugin is one loaded script. All Lua execution goes through mu, so
// the interpreter only ever runs on one goroutine at a time.
type luaPlugin struct {
	meta plugin.Metadata
	dir  string

	mu    sync.Mutex
	state *lua.State
	api   *plugin.API
	ctx   context.Context // context of the call currently inside Lua
}

// New builds a script plugin from its manifest and directory. It slots
// into plugin.HostConfig.ScriptFactory.
func New(meta plugin.Metadata, dir string) plugin.Plugin {
	return &luaPlugin{meta: meta, dir: dir}
}

func (p *luaPlugin) Meta() plugin.Metadata {
	return p.meta
}

// Load runs the entry script, validates the table it returns, registers
// its commands and hooks, and finally calls on_load.
func (p *luaPlugin) Load(ctx context.Context, api *plugin.API) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.meta.Entry
	if entry == "" {
		entry = defaultEntry
	}

	state := lua.NewState()
	lua.OpenLibraries(state)

	p.api = api
	p.ctx = ctx
	defer func() { p.ctx = nil }()

	p.openBridge(state)
	registerContextType(state)

	if err := runEntry(state, filepath.Join(p.dir, entry)); err != nil {
		return err
	}

	cmds, hooked, err := inspect(state)
	if err != nil {
		return err
	}

	for _, lc := range cmds {
		lc := lc
		cmd := &command.Command{
			Name:        lc.name,
			Usage:       lc.usage,
			Description: lc.description,
			Run: func(cc *command.Context) error {
				return p.runCommand(lc.index, cc)
			},
		}
		if err := api.RegisterCommand(cmd); err != nil {
			return err
		}
	}
	if hooked {
		api.OnMessage(p.handleMessage)
	}

	if err := callOptional(state, "on_load"); err != nil {
		return err
	}

	p.state = state

	return nil
}

// Unload calls on_unload and drops the interpreter. The state is plain Go
// memory, so dropping the reference is all the cleanup there is.
func (p *luaPlugin) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil {
		return nil
	}

	p.ctx = ctx
	defer func() { p.ctx = nil }()

	err := callOptional(p.state, "on_unload")
	p.state = nil
	if err != nil {
		return fmt.Errorf("plugin %s: %w", p.meta.ID, err)
	}

	return nil
}

// runCommand invokes commands[index].run with the invocation context.
func (p *luaPlugin) runCommand(index int, cc *command.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil {
		return fmt.Errorf("plugin %s is not loaded", p.meta.ID)
	}

	p.ctx = cc.Ctx
	defer func() { p.ctx = nil }()

	state := p.state
	defer state.SetTop(0)

	if err := pushRun(state, index); err != nil {
		return fmt.Errorf("plugin %s: %w", p.meta.ID, err)
	}
	pushContext(state, cc)
	if err := state.ProtectedCall(1, 0, 0); err != nil {
		return fmt.Errorf("plugin %s: %w", p.meta.ID, err)
	}

	return nil
}

// handleMessage feeds an incoming message to the script's on_message. Run
// errors are logged here since hooks have nowhere to return them.
func (p *luaPlugin) handleMessage(ctx context.Context, msg *discord.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil {
		return
	}

	p.ctx = ctx
	defer func() { p.ctx = nil }()

	state := p.state
	defer state.SetTop(0)

	state.Global(pluginGlobal)
	if state.TypeOf(-1) != lua.TypeTable {
		return
	}
	state.PushString("on_message")
	state.RawGet(-2)
	if state.TypeOf(-1) != lua.TypeFunction {
		return
	}

	pushContext(state, command.NewContext(ctx, msg, p.api.Discord))
	if err := state.ProtectedCall(1, 0, 0); err != nil {
		p.api.Log.ErrorMsg("on_message: %s", err)
	}
}

// current is the context bridge functions run storage calls under.
func (p *luaPlugin) current() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// runEntry loads and runs the entry file, then stashes the table it
// returned in the plugin global.
func runEntry(state *lua.State, path string) error {
	name := filepath.Base(path)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return fmt.Errorf("loading %s: %w", name, err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		state.SetTop(0)
		return fmt.Errorf("running %s: %w", name, err)
	}
	if state.TypeOf(-1) != lua.TypeTable {
		state.SetTop(0)
		return fmt.Errorf("%s must return a plugin table", name)
	}
	state.SetGlobal(pluginGlobal)

	return nil
}

// luaCommand is the Go-side view of one commands[] entry. The run
// function stays in Lua and is reached by index.
type luaCommand struct {
	index       int
	name        string
	usage       string
	description string
}

// inspect validates the plugin table's shape and lists its commands.
func inspect(state *lua.State) ([]luaCommand, bool, error) {
	defer state.SetTop(0)

	state.Global(pluginGlobal)

	hooked := false
	for _, field := range []string{"on_load", "on_unload", "on_message"} {
		t := rawField(state, -1, field)
		state.Pop(1)
		switch t {
		case lua.TypeFunction:
			if field == "on_message" {
				hooked = true
			}
		case lua.TypeNil:
		default:
			return nil, false, fmt.Errorf("%s must be a function", field)
		}
	}

	state.PushString("commands")
	state.RawGet(-2)
	switch state.TypeOf(-1) {
	case lua.TypeNil:
		return nil, hooked, nil
	case lua.TypeTable:
	default:
		return nil, false, fmt.Errorf("commands must be an array of command tables")
	}

	var cmds []luaCommand
	for i := 1; ; i++ {
		state.RawGetInt(-1, i)
		if state.TypeOf(-1) == lua.TypeNil {
			state.Pop(1)
			break
		}
		if state.TypeOf(-1) != lua.TypeTable {
			return nil, false, fmt.Errorf("command %d is not a table", i)
		}

		name := rawString(state, -1, "name")
		if name == "" {
			return nil, false, fmt.Errorf("command %d has no name", i)
		}

		t := rawField(state, -1, "run")
		state.Pop(1)
		if t != lua.TypeFunction {
			return nil, false, fmt.Errorf("command %q has no run function", name)
		}

		cmds = append(cmds, luaCommand{
			index:       i,
			name:        name,
			usage:       rawString(state, -1, "usage"),
			description: rawString(state, -1, "description"),
		})
		state.Pop(1)
	}

	return cmds, hooked, nil
}

// pushRun walks to commands[index].run, leaving it on top of the stack.
// Scripts can mutate their own table after load, so every step is checked.
func pushRun(state *lua.State, index int) error {
	state.Global(pluginGlobal)
	if state.TypeOf(-1) != lua.TypeTable {
		return fmt.Errorf("plugin table is gone")
	}
	state.PushString("commands")
	state.RawGet(-2)
	if state.TypeOf(-1) != lua.TypeTable {
		return fmt.Errorf("commands table is gone")
	}
	state.RawGetInt(-1, index)
	if state.TypeOf(-1) != lua.TypeTable {
		return fmt.Errorf("command %d is gone", index)
	}
	state.PushString("run")
	state.RawGet(-2)
	if state.TypeOf(-1) != lua.TypeFunction {
		return fmt.Errorf("command %d has no run function", index)
	}

	return nil
}

// callOptional invokes a lifecycle function when the script defines one.
// The stack is left clean either way.
func callOptional(state *lua.State, name string) error {
	defer state.SetTop(0)

	state.Global(pluginGlobal)
	if state.TypeOf(-1) != lua.TypeTable {
		return nil
	}
	state.PushString(name)
	state.RawGet(-2)
	if state.TypeOf(-1) != lua.TypeFunction {
		return nil
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// rawField pushes t[name] without invoking metamethods and reports its
// type. The caller pops the value.
func rawField(state *lua.State, index int, name string) lua.Type {
	index = state.AbsIndex(index)
	state.PushString(name)
	state.RawGet(index)
	return state.TypeOf(-1)
}

// rawString reads t[name] as a string, empty when absent or another type.
func rawString(state *lua.State, index int, name string) string {
	t := rawField(state, index, name)
	s := ""
	if t == lua.TypeString {
		s, _ = state.ToString(-1)
	}
	state.Pop(1)
	return s
}
