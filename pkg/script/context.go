package script

import (
	"github.com/Shopify/go-lua"

	"harnessbot/harness/pkg/command"
)

const contextTypeName = "harness.context"

// registerContextType installs the metatable command and message
// contexts share.
func registerContextType(state *lua.State) {
	lua.NewMetaTable(state, contextTypeName)
	state.NewTable()
	lua.SetFunctions(state, contextMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

var contextMethods = []lua.RegistryFunction{
	{Name: "reply", Function: contextReply},
	{Name: "send", Function: contextSend},
	{Name: "react", Function: contextReact},
	{Name: "author", Function: contextAuthor},
	{Name: "channel", Function: contextChannel},
	{Name: "content", Function: contextContent},
	{Name: "args", Function: contextArgs},
	{Name: "rest", Function: contextRest},
}

// pushContext wraps an invocation for Lua.
func pushContext(state *lua.State, cc *command.Context) {
	state.PushUserData(cc)
	lua.SetMetaTableNamed(state, contextTypeName)
}

func checkContext(l *lua.State) *command.Context {
	ud := lua.CheckUserData(l, 1, contextTypeName)
	if cc, ok := ud.(*command.Context); ok && cc != nil {
		return cc
	}
	lua.ArgumentError(l, 1, "context expected")
	return nil
}

func contextReply(l *lua.State) int {
	cc := checkContext(l)
	text := lua.CheckString(l, 2)
	if err := cc.Reply("%s", text); err != nil {
		lua.Errorf(l, "reply: %s", err)
		return 0
	}
	return 0
}

func contextSend(l *lua.State) int {
	cc := checkContext(l)
	channelID := lua.CheckString(l, 2)
	text := lua.CheckString(l, 3)
	if err := cc.SendTo(channelID, "%s", text); err != nil {
		lua.Errorf(l, "send: %s", err)
		return 0
	}
	return 0
}

func contextReact(l *lua.State) int {
	cc := checkContext(l)
	emoji := lua.CheckString(l, 2)
	if err := cc.React(emoji); err != nil {
		lua.Errorf(l, "react: %s", err)
		return 0
	}
	return 0
}

func contextAuthor(l *lua.State) int {
	cc := checkContext(l)
	l.NewTable()
	l.PushString(cc.Msg.Author.ID)
	l.SetField(-2, "id")
	l.PushString(cc.Msg.Author.Username)
	l.SetField(-2, "username")
	l.PushString(cc.Msg.Author.Tag())
	l.SetField(-2, "tag")
	l.PushBoolean(cc.Msg.Author.Bot)
	l.SetField(-2, "bot")
	return 1
}

func contextChannel(l *lua.State) int {
	l.PushString(checkContext(l).Msg.ChannelID)
	return 1
}

func contextContent(l *lua.State) int {
	l.PushString(checkContext(l).Msg.Content)
	return 1
}

func contextArgs(l *lua.State) int {
	cc := checkContext(l)
	l.NewTable()
	for i, arg := range cc.Args {
		l.PushString(arg)
		l.RawSetInt(-2, i+1)
	}
	return 1
}

func contextRest(l *lua.State) int {
	l.PushString(checkContext(l).Rest)
	return 1
}
