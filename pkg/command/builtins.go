package command

import (
	"fmt"
	"strings"
	"time"

	"harnessbot/harness/pkg/format"
)

// BuiltinDeps supplies what the core commands report on.
type BuiltinDeps struct {
	Registry *Registry
	Latency  func() time.Duration // gateway heartbeat latency
	Started  time.Time
	Version  string
}

// RegisterBuiltins installs the core commands: help, ping, and uptime.
func RegisterBuiltins(deps BuiltinDeps) error {
	cmds := []*Command{
		helpCommand(deps.Registry),
		pingCommand(deps.Latency),
		uptimeCommand(deps.Started, deps.Version),
	}

	for _, cmd := range cmds {
		if err := deps.Registry.Register(cmd); err != nil {
			return fmt.Errorf("registering built-in %q: %w", cmd.Name, err)
		}
	}

	return nil
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Plugin:      "core",
		Usage:       "[command]",
		Description: "List commands, or show details for one",
		Run: func(cc *Context) error {
			if len(cc.Args) == 0 {
				return cc.Reply("%s", renderHelp(reg.List()))
			}

			cmd, ok := reg.Lookup(cc.Args[0])
			if !ok {
				return cc.Reply("No command named %q.", cc.Args[0])
			}

			return cc.Reply("%s", renderDetail(cmd))
		},
	}
}

func renderHelp(cmds []*Command) string {
	width := 0
	for _, c := range cmds {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	var b strings.Builder
	b.WriteString("```\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "%-*s  %s\n", width, c.Name, c.Description)
	}
	b.WriteString("```")

	return b.String()
}

func renderDetail(cmd *Command) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: %s\n", cmd.Name, cmd.Description)
	if cmd.Usage != "" {
		fmt.Fprintf(&b, "Usage: `%s %s`\n", cmd.Name, cmd.Usage)
	}
	if len(cmd.Aliases) > 0 {
		fmt.Fprintf(&b, "Aliases: %s\n", strings.Join(cmd.Aliases, ", "))
	}
	fmt.Fprintf(&b, "Plugin: %s", cmd.Plugin)

	return b.String()
}

func pingCommand(latency func() time.Duration) *Command {
	return &Command{
		Name:        "ping",
		Plugin:      "core",
		Description: "Check the bot is alive",
		Run: func(cc *Context) error {
			if latency == nil || latency() == 0 {
				return cc.Reply("Pong!")
			}

			return cc.Reply("Pong! Heartbeat %s.", latency().Round(time.Millisecond))
		},
	}
}

func uptimeCommand(started time.Time, version string) *Command {
	return &Command{
		Name:        "uptime",
		Plugin:      "core",
		Description: "Show how long the bot has been running",
		Run: func(cc *Context) error {
			up := format.Duration(time.Since(started))
			if version == "" {
				return cc.Reply("Up %s.", up)
			}

			return cc.Reply("harness %s, up %s.", version, up)
		},
	}
}
