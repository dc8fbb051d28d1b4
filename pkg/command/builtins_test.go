package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"harnessbot/harness/pkg/discord"
)

func builtinContext(api *fakeReplier, args ...string) *Context {
	return &Context{
		Ctx:  context.Background(),
		Msg:  &discord.Message{ID: "msg-1", ChannelID: "chan-1"},
		Args: args,
		api:  api,
	}
}

func registerTestBuiltins(t *testing.T, deps BuiltinDeps) *Registry {
	t.Helper()

	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if err := RegisterBuiltins(deps); err != nil {
		t.Fatalf("RegisterBuiltins() failed: %v", err)
	}

	return deps.Registry
}

func TestBuiltinsRegistered(t *testing.T) {
	t.Parallel()

	reg := registerTestBuiltins(t, BuiltinDeps{})

	for _, name := range []string{"help", "ping", "uptime"} {
		cmd, ok := reg.Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) missed", name)
			continue
		}
		if got, want := cmd.Plugin, "core"; got != want {
			t.Errorf("%q plugin: got %q; want %q", name, got, want)
		}
	}
}

func TestHelpList(t *testing.T) {
	t.Parallel()

	reg := registerTestBuiltins(t, BuiltinDeps{})
	if err := reg.Register(&Command{Name: "roll", Plugin: "dice", Description: "Roll dice", Run: noop}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	help, _ := reg.Lookup("help")
	api := &fakeReplier{}
	if err := help.Run(builtinContext(api)); err != nil {
		t.Fatalf("help failed: %v", err)
	}

	sent := api.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages; want 1", len(sent))
	}
	content := sent[0].send.Content
	if !strings.HasPrefix(content, "```") || !strings.HasSuffix(content, "```") {
		t.Errorf("help not fenced: %q", content)
	}
	for _, want := range []string{"help", "ping", "uptime", "roll", "Roll dice"} {
		if !strings.Contains(content, want) {
			t.Errorf("help output missing %q:\n%s", want, content)
		}
	}
}

func TestHelpDetail(t *testing.T) {
	t.Parallel()

	reg := registerTestBuiltins(t, BuiltinDeps{})
	cmd := &Command{
		Name:        "roll",
		Aliases:     []string{"r"},
		Plugin:      "dice",
		Usage:       "<spec> [count]",
		Description: "Roll dice",
		Run:         noop,
	}
	if err := reg.Register(cmd); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	help, _ := reg.Lookup("help")
	api := &fakeReplier{}
	if err := help.Run(builtinContext(api, "roll")); err != nil {
		t.Fatalf("help roll failed: %v", err)
	}

	content := api.sent()[0].send.Content
	for _, want := range []string{"**roll**", "Roll dice", "roll <spec> [count]", "Aliases: r", "Plugin: dice"} {
		if !strings.Contains(content, want) {
			t.Errorf("detail missing %q:\n%s", want, content)
		}
	}
}

func TestHelpUnknown(t *testing.T) {
	t.Parallel()

	reg := registerTestBuiltins(t, BuiltinDeps{})

	help, _ := reg.Lookup("help")
	api := &fakeReplier{}
	if err := help.Run(builtinContext(api, "zzz")); err != nil {
		t.Fatalf("help zzz failed: %v", err)
	}

	if got, want := api.sent()[0].send.Content, `No command named "zzz".`; got != want {
		t.Errorf("got %q; want %q", got, want)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	t.Run("no latency yet", func(t *testing.T) {
		t.Parallel()

		reg := registerTestBuiltins(t, BuiltinDeps{})
		ping, _ := reg.Lookup("ping")
		api := &fakeReplier{}
		if err := ping.Run(builtinContext(api)); err != nil {
			t.Fatalf("ping failed: %v", err)
		}
		if got, want := api.sent()[0].send.Content, "Pong!"; got != want {
			t.Errorf("got %q; want %q", got, want)
		}
	})

	t.Run("with heartbeat latency", func(t *testing.T) {
		t.Parallel()

		reg := registerTestBuiltins(t, BuiltinDeps{
			Latency: func() time.Duration { return 42 * time.Millisecond },
		})
		ping, _ := reg.Lookup("ping")
		api := &fakeReplier{}
		if err := ping.Run(builtinContext(api)); err != nil {
			t.Fatalf("ping failed: %v", err)
		}
		if got := api.sent()[0].send.Content; !strings.Contains(got, "42ms") {
			t.Errorf("got %q; want the heartbeat latency in it", got)
		}
	})
}

func TestUptime(t *testing.T) {
	t.Parallel()

	reg := registerTestBuiltins(t, BuiltinDeps{
		Started: time.Now().Add(-90 * time.Second),
		Version: "v1.2.3",
	})

	uptime, _ := reg.Lookup("uptime")
	api := &fakeReplier{}
	if err := uptime.Run(builtinContext(api)); err != nil {
		t.Fatalf("uptime failed: %v", err)
	}

	got := api.sent()[0].send.Content
	if !strings.Contains(got, "1m 30s") {
		t.Errorf("got %q; want the uptime in it", got)
	}
	if !strings.Contains(got, "v1.2.3") {
		t.Errorf("got %q; want the version in it", got)
	}
}
