package control

import (
	"context"
	"fmt"
	"net"

	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/control/msg"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/transport"
)

// Client is an admin invocation's end of the control link. Its methods
// issue one request at a time and are not safe for concurrent use.
type Client struct {
	sess          *session
	lgr           *log.Logger
	serverVersion string
	sessionID     string
}

// Dial connects to the control address, upgrades the link with key when
// one is set, and performs the hello exchange. A version mismatch between
// the two ends is logged, not fatal.
func Dial(ctx context.Context, spec config.ListenSpec, key string, lgr *log.Logger) (*Client, error) {
	conn, err := transport.Dial(ctx, spec, key, lgr)
	if err != nil {
		return nil, err
	}

	sess, err := openSession(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening session: %w", err)
	}

	c := &Client{sess: sess, lgr: lgr}
	if err := c.hello(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("hello exchange: %w", err)
	}
	return c, nil
}

// hello introduces the client and records what the server answered.
func (c *Client) hello(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.sess.send(hctx, msg.Hello{Version: runtimeVersion()}); err != nil {
		return err
	}

	m, err := c.sess.receive(hctx)
	if err != nil {
		return err
	}
	hello, ok := m.(msg.Hello)
	if !ok {
		return fmt.Errorf("expected Hello, got %s", m.MsgType())
	}

	c.serverVersion = hello.Version
	c.sessionID = hello.SessionID
	if hello.Version != runtimeVersion() {
		c.lgr.WarnMsg("server runs %q, this client is %q", hello.Version, runtimeVersion())
	}
	c.lgr.DebugMsg("control session %s established", hello.SessionID)
	return nil
}

// Status fetches a snapshot of the bot.
func (c *Client) Status(ctx context.Context) (msg.StatusReply, error) {
	if err := c.sess.send(ctx, msg.Status{}); err != nil {
		return msg.StatusReply{}, err
	}

	m, err := c.sess.receive(ctx)
	if err != nil {
		return msg.StatusReply{}, err
	}
	reply, ok := m.(msg.StatusReply)
	if !ok {
		return msg.StatusReply{}, fmt.Errorf("expected StatusReply, got %s", m.MsgType())
	}
	return reply, nil
}

// Reload reloads one plugin by id. A failure on the bot side comes back as
// an error.
func (c *Client) Reload(ctx context.Context, id string) error {
	if err := c.sess.send(ctx, msg.Reload{ID: id}); err != nil {
		return err
	}

	m, err := c.sess.receive(ctx)
	if err != nil {
		return err
	}
	reply, ok := m.(msg.ReloadReply)
	if !ok {
		return fmt.Errorf("expected ReloadReply, got %s", m.MsgType())
	}
	if reply.Err != "" {
		return fmt.Errorf("reloading %q: %s", id, reply.Err)
	}
	return nil
}

// Tail asks the server to stream log lines. The returned stream delivers
// one line per log record; closing it ends the tail.
func (c *Client) Tail(ctx context.Context) (net.Conn, error) {
	if err := c.sess.send(ctx, msg.Tail{}); err != nil {
		return nil, err
	}

	stream, err := c.sess.acceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accepting tail stream: %w", err)
	}
	return stream, nil
}

// Console asks the server for an interactive console. Lines written to the
// returned stream run as commands; replies come back as lines. Closing the
// stream detaches the console.
func (c *Client) Console(ctx context.Context) (net.Conn, error) {
	if err := c.sess.send(ctx, msg.Console{}); err != nil {
		return nil, err
	}

	stream, err := c.sess.acceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accepting console stream: %w", err)
	}
	return stream, nil
}

// ServerVersion returns the version the server reported in its hello.
func (c *Client) ServerVersion() string {
	return c.serverVersion
}

// SessionID returns the id the server assigned this session.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close tears the session down.
func (c *Client) Close() error {
	return c.sess.Close()
}
