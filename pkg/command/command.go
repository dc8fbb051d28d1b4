// Package command routes chat messages to registered handlers: parsing
// triggers, bounding concurrent runs, and recording usage.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"harnessbot/harness/pkg/discord"
)

// Replier is the message surface handlers answer through. *discord.Client
// implements it; tests swap in a recorder.
type Replier interface {
	CreateMessage(ctx context.Context, channelID string, send discord.MessageSend) (*discord.Message, error)
	CreateReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// Command is one chat command a plugin exposes.
type Command struct {
	Name        string
	Aliases     []string
	Plugin      string // owning plugin id, "core" for built-ins
	Usage       string // argument synopsis, like "<dice> [count]"
	Description string
	Run         func(cc *Context) error
}

// Context carries one invocation into a handler.
type Context struct {
	Ctx     context.Context
	Msg     *discord.Message
	Invoked string   // the name or alias the user typed
	Args    []string // parsed arguments after the command name
	Rest    string   // raw text after the command name

	api Replier
}

// NewContext builds a context outside the dispatcher. Message hooks reply
// through one of these.
func NewContext(ctx context.Context, msg *discord.Message, api Replier) *Context {
	return &Context{Ctx: ctx, Msg: msg, api: api}
}

// Reply sends a formatted message to the invoking channel, referencing the
// message that triggered the command.
func (cc *Context) Reply(format string, args ...interface{}) error {
	_, err := cc.api.CreateMessage(cc.Ctx, cc.Msg.ChannelID, discord.MessageSend{
		Content: fmt.Sprintf(format, args...),
		Reference: &discord.MessageReference{
			MessageID: cc.Msg.ID,
			ChannelID: cc.Msg.ChannelID,
		},
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
	})
	if err != nil {
		return fmt.Errorf("replying in %s: %w", cc.Msg.ChannelID, err)
	}

	return nil
}

// Send posts a message to the invoking channel without a reference.
func (cc *Context) Send(send discord.MessageSend) error {
	if _, err := cc.api.CreateMessage(cc.Ctx, cc.Msg.ChannelID, send); err != nil {
		return fmt.Errorf("sending to %s: %w", cc.Msg.ChannelID, err)
	}

	return nil
}

// SendTo posts a formatted message to another channel.
func (cc *Context) SendTo(channelID, format string, args ...interface{}) error {
	send := discord.MessageSend{Content: fmt.Sprintf(format, args...)}
	if _, err := cc.api.CreateMessage(cc.Ctx, channelID, send); err != nil {
		return fmt.Errorf("sending to %s: %w", channelID, err)
	}

	return nil
}

// React adds an emoji reaction to the invoking message.
func (cc *Context) React(emoji string) error {
	if err := cc.api.CreateReaction(cc.Ctx, cc.Msg.ChannelID, cc.Msg.ID, emoji); err != nil {
		return fmt.Errorf("reacting to %s: %w", cc.Msg.ID, err)
	}

	return nil
}

// Registry holds the live command set. Plugins register on load and are
// swept out by id on unload.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command // canonical name → command
	index    map[string]*Command // name and aliases → command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		index:    make(map[string]*Command),
	}
}

// Register adds a command. Names and aliases share one namespace, and a
// collision rejects the whole command.
func (r *Registry) Register(cmd *Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command has no name")
	}
	if cmd.Run == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{cmd.Name}, cmd.Aliases...)
	for _, n := range names {
		n = strings.ToLower(n)
		if have, ok := r.index[n]; ok {
			return fmt.Errorf("command name %q already taken by %q (plugin %s)", n, have.Name, have.Plugin)
		}
	}

	r.commands[strings.ToLower(cmd.Name)] = cmd
	for _, n := range names {
		r.index[strings.ToLower(n)] = cmd
	}

	return nil
}

// Unregister removes a command and its aliases. It reports whether the
// command existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.commands[strings.ToLower(name)]
	if !ok {
		return false
	}
	r.remove(cmd)

	return true
}

// UnregisterPlugin removes every command a plugin owns and returns how
// many were dropped. The reload path calls this before re-registering.
func (r *Registry) UnregisterPlugin(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doomed []*Command
	for _, cmd := range r.commands {
		if cmd.Plugin == id {
			doomed = append(doomed, cmd)
		}
	}
	for _, cmd := range doomed {
		r.remove(cmd)
	}

	return len(doomed)
}

// remove must run under mu.
func (r *Registry) remove(cmd *Command) {
	delete(r.commands, strings.ToLower(cmd.Name))
	delete(r.index, strings.ToLower(cmd.Name))
	for _, a := range cmd.Aliases {
		delete(r.index, strings.ToLower(a))
	}
}

// Lookup resolves a name or alias, case-insensitively.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.index[strings.ToLower(name)]

	return cmd, ok
}

// List returns all commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
