package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"harnessbot/harness/pkg/discord"
)

// fakeReplier records outbound messages and reactions for assertions.
type fakeReplier struct {
	mu        sync.Mutex
	messages  []sentMessage
	reactions []string
	err       error
}

type sentMessage struct {
	channelID string
	send      discord.MessageSend
}

func (f *fakeReplier) CreateMessage(_ context.Context, channelID string, send discord.MessageSend) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.messages = append(f.messages, sentMessage{channelID: channelID, send: send})

	return &discord.Message{ID: "reply-1", ChannelID: channelID}, nil
}

func (f *fakeReplier) CreateReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.reactions = append(f.reactions, emoji)

	return nil
}

func (f *fakeReplier) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sentMessage, len(f.messages))
	copy(out, f.messages)

	return out
}

func noop(cc *Context) error { return nil }

func TestRegistryRegisterLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	cmd := &Command{Name: "Roll", Aliases: []string{"r", "dice"}, Plugin: "dice", Run: noop}
	if err := reg.Register(cmd); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	for _, name := range []string{"roll", "ROLL", "r", "DICE"} {
		got, ok := reg.Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) missed", name)
			continue
		}
		if got != cmd {
			t.Errorf("Lookup(%q) returned a different command", name)
		}
	}

	if _, ok := reg.Lookup("flip"); ok {
		t.Error("Lookup(flip) hit; want miss")
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	if err := reg.Register(&Command{Run: noop}); err == nil {
		t.Error("Register() accepted a nameless command")
	}
	if err := reg.Register(&Command{Name: "x"}); err == nil {
		t.Error("Register() accepted a command without a handler")
	}
}

func TestRegistryRejectsCollisions(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(&Command{Name: "roll", Aliases: []string{"r"}, Plugin: "dice", Run: noop}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	cases := []struct {
		name string
		cmd  *Command
	}{
		{"duplicate name", &Command{Name: "roll", Plugin: "other", Run: noop}},
		{"name collides with alias", &Command{Name: "r", Plugin: "other", Run: noop}},
		{"alias collides with name", &Command{Name: "fresh", Aliases: []string{"ROLL"}, Plugin: "other", Run: noop}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if err := reg.Register(tc.cmd); err == nil {
				t.Errorf("Register(%q) accepted a collision", tc.cmd.Name)
			}
		})
	}

	// A rejected command must leave nothing behind.
	if _, ok := reg.Lookup("fresh"); ok {
		t.Error("rejected command got registered anyway")
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(&Command{Name: "roll", Aliases: []string{"r"}, Plugin: "dice", Run: noop}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if !reg.Unregister("roll") {
		t.Fatal("Unregister(roll) = false; want true")
	}
	if _, ok := reg.Lookup("roll"); ok {
		t.Error("Lookup(roll) hit after unregister")
	}
	if _, ok := reg.Lookup("r"); ok {
		t.Error("alias survived unregister")
	}
	if reg.Unregister("roll") {
		t.Error("Unregister(roll) = true on second call; want false")
	}
}

func TestRegistryUnregisterPlugin(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	cmds := []*Command{
		{Name: "roll", Plugin: "dice", Run: noop},
		{Name: "flip", Plugin: "dice", Run: noop},
		{Name: "quote", Plugin: "quotes", Run: noop},
	}
	for _, cmd := range cmds {
		if err := reg.Register(cmd); err != nil {
			t.Fatalf("Register(%q) failed: %v", cmd.Name, err)
		}
	}

	if got, want := reg.UnregisterPlugin("dice"), 2; got != want {
		t.Errorf("UnregisterPlugin(dice) = %d; want %d", got, want)
	}
	if _, ok := reg.Lookup("roll"); ok {
		t.Error("Lookup(roll) hit after plugin unregister")
	}
	if _, ok := reg.Lookup("quote"); !ok {
		t.Error("Lookup(quote) missed; other plugin swept away")
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, name := range []string{"zebra", "alpha", "mango"} {
		if err := reg.Register(&Command{Name: name, Plugin: "p", Run: noop}); err != nil {
			t.Fatalf("Register(%q) failed: %v", name, err)
		}
	}

	list := reg.List()
	want := []string{"alpha", "mango", "zebra"}
	if len(list) != len(want) {
		t.Fatalf("List() returned %d commands; want %d", len(list), len(want))
	}
	for i, cmd := range list {
		if cmd.Name != want[i] {
			t.Errorf("List()[%d] = %q; want %q", i, cmd.Name, want[i])
		}
	}
}

func TestContextReply(t *testing.T) {
	t.Parallel()

	api := &fakeReplier{}
	cc := &Context{
		Ctx: context.Background(),
		Msg: &discord.Message{ID: "msg-1", ChannelID: "chan-1"},
		api: api,
	}

	if err := cc.Reply("hello %s", "world"); err != nil {
		t.Fatalf("Reply() failed: %v", err)
	}

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages; want 1", len(sent))
	}
	if got, want := sent[0].channelID, "chan-1"; got != want {
		t.Errorf("channel: got %q; want %q", got, want)
	}
	if got, want := sent[0].send.Content, "hello world"; got != want {
		t.Errorf("content: got %q; want %q", got, want)
	}
	if ref := sent[0].send.Reference; ref == nil || ref.MessageID != "msg-1" {
		t.Errorf("reference = %+v; want message msg-1", ref)
	}
	if am := sent[0].send.AllowedMentions; am == nil || len(am.Parse) != 0 {
		t.Errorf("allowed mentions = %+v; want mentions suppressed", am)
	}
}

func TestContextReplyError(t *testing.T) {
	t.Parallel()

	api := &fakeReplier{err: errors.New("boom")}
	cc := &Context{
		Ctx: context.Background(),
		Msg: &discord.Message{ID: "msg-1", ChannelID: "chan-1"},
		api: api,
	}

	if err := cc.Reply("hi"); err == nil {
		t.Error("Reply() swallowed the API error")
	}
}

func TestContextReact(t *testing.T) {
	t.Parallel()

	api := &fakeReplier{}
	cc := &Context{
		Ctx: context.Background(),
		Msg: &discord.Message{ID: "msg-1", ChannelID: "chan-1"},
		api: api,
	}

	if err := cc.React("👍"); err != nil {
		t.Fatalf("React() failed: %v", err)
	}
	if len(api.reactions) != 1 || api.reactions[0] != "👍" {
		t.Errorf("reactions = %v; want the one emoji", api.reactions)
	}
}
