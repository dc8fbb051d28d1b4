package script

import (
	"errors"

	"github.com/Shopify/go-lua"

	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/store"
	"harnessbot/harness/pkg/version"
)

// openBridge installs the harness global:
//
//	harness.log.debug/info/warn/error(msg)
//	harness.config.get(key)
//	harness.storage.get/set/delete(key[, value])
//	harness.version()
//
// Bridge functions only ever run inside Lua calls, which all hold p.mu,
// so they read p.api and p.ctx without locking.
func (p *luaPlugin) openBridge(state *lua.State) {
	state.NewTable() // harness

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "debug", Function: p.logAt((*log.Logger).DebugMsg)},
		{Name: "info", Function: p.logAt((*log.Logger).InfoMsg)},
		{Name: "warn", Function: p.logAt((*log.Logger).WarnMsg)},
		{Name: "error", Function: p.logAt((*log.Logger).ErrorMsg)},
	}, 0)
	state.SetField(-2, "log")

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "get", Function: p.configGet},
	}, 0)
	state.SetField(-2, "config")

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "get", Function: p.storageGet},
		{Name: "set", Function: p.storageSet},
		{Name: "delete", Function: p.storageDelete},
	}, 0)
	state.SetField(-2, "storage")

	state.PushGoFunction(bridgeVersion)
	state.SetField(-2, "version")

	state.SetGlobal("harness")
}

// logAt adapts one logger level to a Lua function. The message goes
// through %s so stray percent signs in script text stay literal.
func (p *luaPlugin) logAt(emit func(*log.Logger, string, ...interface{})) func(*lua.State) int {
	return func(l *lua.State) int {
		emit(p.api.Log, "%s", lua.CheckString(l, 1))
		return 0
	}
}

func (p *luaPlugin) configGet(l *lua.State) int {
	key := lua.CheckString(l, 1)
	v, ok := p.api.Config[key]
	if !ok {
		l.PushNil()
		return 1
	}
	pushValue(l, v)
	return 1
}

func (p *luaPlugin) storageGet(l *lua.State) int {
	key := lua.CheckString(l, 1)
	if p.api.Bucket == nil {
		l.PushNil()
		return 1
	}

	var v interface{}
	err := p.api.Bucket.Get(p.current(), key, &v)
	if errors.Is(err, store.ErrNotFound) {
		l.PushNil()
		return 1
	}
	if err != nil {
		lua.Errorf(l, "storage.get(%s): %s", key, err)
		return 0
	}
	pushValue(l, v)
	return 1
}

func (p *luaPlugin) storageSet(l *lua.State) int {
	key := lua.CheckString(l, 1)
	if l.IsNoneOrNil(2) {
		lua.ArgumentError(l, 2, "value expected")
		return 0
	}
	if p.api.Bucket == nil {
		lua.Errorf(l, "storage is not available")
		return 0
	}

	if err := p.api.Bucket.Put(p.current(), key, toGoValue(l, 2)); err != nil {
		lua.Errorf(l, "storage.set(%s): %s", key, err)
		return 0
	}
	return 0
}

func (p *luaPlugin) storageDelete(l *lua.State) int {
	key := lua.CheckString(l, 1)
	if p.api.Bucket == nil {
		return 0
	}

	if err := p.api.Bucket.Delete(p.current(), key); err != nil {
		lua.Errorf(l, "storage.delete(%s): %s", key, err)
		return 0
	}
	return 0
}

func bridgeVersion(l *lua.State) int {
	l.PushString(version.Runtime())
	return 1
}
