package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/yamux"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/control/msg"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/transport"
)

// tailBacklog is how many log lines a tail stream may fall behind before
// lines are dropped.
const tailBacklog = 256

// Admin is the view of the running bot the control server exposes.
type Admin interface {
	// Status returns a snapshot of the bot.
	Status(ctx context.Context) msg.StatusReply

	// Reload tears down and loads one plugin by id.
	Reload(ctx context.Context, id string) error
}

// Server answers admin sessions on the control listener. Sessions are
// independent: each gets its own id, requests within one session are
// handled strictly one at a time, and a client going away never disturbs
// the listener or other sessions.
type Server struct {
	spec  config.ListenSpec
	key   string
	admin Admin
	reg   *command.Registry
	lgr   *log.Logger
}

// NewServer builds a control server. The key, when non-empty, enables
// mutual TLS on every transport; reg backs the remote console.
func NewServer(spec config.ListenSpec, key string, admin Admin, reg *command.Registry, lgr *log.Logger) *Server {
	return &Server{
		spec:  spec,
		key:   key,
		admin: admin,
		reg:   reg,
		lgr:   lgr,
	}
}

// Run listens and serves admin sessions until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	handler := func(conn net.Conn) error {
		return s.handle(ctx, conn)
	}
	return transport.ListenAndServe(ctx, s.spec, s.key, handler, s.lgr)
}

// handle runs one admin session from accept to close.
func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	sess, err := acceptSession(ctx, conn)
	if err != nil {
		return fmt.Errorf("accepting session: %w", err)
	}
	defer sess.Close()

	id := uuid.NewString()

	hello, err := s.exchangeHello(ctx, sess, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	s.lgr.InfoMsg("session %s opened from %s (client %s)", id, conn.RemoteAddr(), hello.Version)

	for {
		m, err := sess.receive(ctx)
		if err != nil {
			if sessionOver(ctx, err) {
				s.lgr.InfoMsg("session %s closed", id)
				return nil
			}
			return fmt.Errorf("session %s: receiving: %w", id, err)
		}

		if err := s.serve(ctx, sess, id, m); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
	}
}

// exchangeHello waits for the client's Hello and answers it. The client
// speaks first; anything else on a fresh session is a protocol error.
func (s *Server) exchangeHello(ctx context.Context, sess *session, id string) (msg.Hello, error) {
	hctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	m, err := sess.receive(hctx)
	if err != nil {
		return msg.Hello{}, fmt.Errorf("awaiting hello: %w", err)
	}
	hello, ok := m.(msg.Hello)
	if !ok {
		return msg.Hello{}, fmt.Errorf("expected Hello, got %s", m.MsgType())
	}

	if hello.Version != runtimeVersion() {
		s.lgr.WarnMsg("session %s: client version %q does not match server %q", id, hello.Version, runtimeVersion())
	}

	reply := msg.Hello{Version: runtimeVersion(), SessionID: id}
	if err := sess.send(ctx, reply); err != nil {
		return msg.Hello{}, fmt.Errorf("answering hello: %w", err)
	}
	return hello, nil
}

// serve handles one request. Tail and console hold the request loop for
// their whole stream lifetime, which is what keeps a session to one
// request at a time.
func (s *Server) serve(ctx context.Context, sess *session, id string, m msg.Message) error {
	switch m := m.(type) {
	case msg.Status:
		return sess.send(ctx, s.admin.Status(ctx))

	case msg.Reload:
		s.lgr.InfoMsg("session %s: reloading plugin %q", id, m.ID)
		var reply msg.ReloadReply
		if err := s.admin.Reload(ctx, m.ID); err != nil {
			reply.Err = err.Error()
		}
		return sess.send(ctx, reply)

	case msg.Tail:
		return s.serveTail(ctx, sess, id)

	case msg.Console:
		return s.serveConsole(ctx, sess, id)

	default:
		return fmt.Errorf("unexpected message %s", m.MsgType())
	}
}

// serveTail streams log lines onto a dedicated stream until the client
// closes it. A client that cannot keep up loses lines rather than slowing
// the bot down.
func (s *Server) serveTail(ctx context.Context, sess *session, id string) error {
	// The tap goes in before the stream opens, so a line logged the moment
	// the client sees the stream is already caught.
	tap := s.lgr.Tap(tailBacklog)
	defer tap.Close()

	stream, err := sess.openStream(ctx)
	if err != nil {
		return fmt.Errorf("opening tail stream: %w", err)
	}
	defer stream.Close()

	s.lgr.InfoMsg("session %s: tail attached", id)
	defer s.lgr.InfoMsg("session %s: tail detached", id)

	// The client sends nothing on the stream; a read ending is how its
	// departure shows up.
	clientGone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, stream)
		close(clientGone)
	}()

	for {
		select {
		case line, ok := <-tap.Lines():
			if !ok {
				return nil
			}
			_ = stream.SetWriteDeadline(time.Now().Add(opTimeout))
			if _, err := fmt.Fprintln(stream, line); err != nil {
				return nil
			}
			_ = stream.SetWriteDeadline(time.Time{})
		case <-clientGone:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// serveConsole runs the line console on a dedicated stream until the
// client closes it.
func (s *Server) serveConsole(ctx context.Context, sess *session, id string) error {
	stream, err := sess.openStream(ctx)
	if err != nil {
		return fmt.Errorf("opening console stream: %w", err)
	}
	defer stream.Close()

	s.lgr.InfoMsg("session %s: console attached", id)
	defer s.lgr.InfoMsg("session %s: console detached", id)

	newConsole(s.reg, stream).run(ctx)
	return nil
}

// sessionOver reports whether err is the ordinary end of a session rather
// than a fault worth surfacing.
func sessionOver(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, yamux.ErrSessionShutdown) ||
		errors.Is(err, yamux.ErrStreamClosed)
}
