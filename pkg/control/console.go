package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/discord"
)

// console dispatches lines from an admin stream through the command
// registry. Commands run exactly as they would for a chat message, except
// that replies come back as plain lines on the stream instead of Discord
// posts.
type console struct {
	reg     *command.Registry
	stream  net.Conn
	matcher *command.Matcher
	rep     *streamReplier
}

func newConsole(reg *command.Registry, stream net.Conn) *console {
	return &console{
		reg:    reg,
		stream: stream,
		// The empty prefix makes every line an invocation.
		matcher: command.NewMatcher([]string{""}, false),
		rep:     &streamReplier{w: stream},
	}
}

// run reads lines until the stream closes or ctx ends.
func (c *console) run(ctx context.Context) {
	sc := bufio.NewScanner(c.stream)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.dispatch(ctx, line)
	}
}

// dispatch runs one line as a command invocation.
func (c *console) dispatch(ctx context.Context, line string) {
	inv, ok := c.matcher.Match(line, "")
	if !ok {
		return
	}

	cmd, ok := c.reg.Lookup(inv.Name)
	if !ok {
		fmt.Fprintf(c.stream, "unknown command %q\n", inv.Name)
		return
	}

	// Handlers see a synthetic message so the usual Context surface works.
	m := &discord.Message{
		ID:        "console",
		ChannelID: "console",
		Author:    discord.User{ID: "console", Username: "console"},
		Content:   line,
		Timestamp: time.Now().UTC(),
	}

	cc := command.NewContext(ctx, m, c.rep)
	cc.Invoked = inv.Name
	cc.Args = inv.Args
	cc.Rest = inv.Rest

	if err := runCommand(cmd, cc); err != nil {
		fmt.Fprintf(c.stream, "error: %s\n", err)
	}
}

// runCommand contains handler panics so a buggy plugin cannot take the
// session down.
func runCommand(cmd *command.Command, cc *command.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %q panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Run(cc)
}

// streamReplier satisfies command.Replier by writing lines to the console
// stream.
type streamReplier struct {
	mu sync.Mutex
	w  io.Writer
}

func (r *streamReplier) CreateMessage(_ context.Context, channelID string, send discord.MessageSend) (*discord.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := io.WriteString(r.w, renderSend(send)); err != nil {
		return nil, fmt.Errorf("writing console reply: %w", err)
	}
	return &discord.Message{ID: "console", ChannelID: channelID}, nil
}

func (r *streamReplier) CreateReaction(_ context.Context, _, _, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := fmt.Fprintf(r.w, "[%s]\n", emoji)
	return err
}

// renderSend flattens a message into console lines. Embeds lose their
// layout but keep their text.
func renderSend(send discord.MessageSend) string {
	var b strings.Builder
	if send.Content != "" {
		b.WriteString(send.Content)
		b.WriteString("\n")
	}
	for _, e := range send.Embeds {
		if e.Title != "" {
			fmt.Fprintf(&b, "%s\n", e.Title)
		}
		if e.Description != "" {
			fmt.Fprintf(&b, "%s\n", e.Description)
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
		}
		if e.Footer != nil && e.Footer.Text != "" {
			fmt.Fprintf(&b, "%s\n", e.Footer.Text)
		}
	}
	if b.Len() == 0 {
		b.WriteString("\n")
	}
	return b.String()
}
