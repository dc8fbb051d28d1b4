// Package control implements the admin link between a running bot and the
// admin subcommands. One TCP, WebSocket or KCP connection carries a yamux
// session; the first two streams exchange gob messages (requests one way,
// replies the other), and tail or console attach further streams opened by
// the server.
package control

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"harnessbot/harness/pkg/control/msg"
	"harnessbot/harness/pkg/version"
)

// opTimeout bounds a single control operation: stream setup, an encode, or
// the wait for a reply. Tail and console streams are not subject to it.
const opTimeout = 10 * time.Second

// session is one end of an established control link.
type session struct {
	mux *yamux.Session

	out net.Conn // messages to the peer
	in  net.Conn // messages from the peer

	enc *gob.Encoder
	dec *gob.Decoder

	mu sync.Mutex // serializes writers on out
}

// openSession starts the client side of a session over conn. The first
// stream opened carries requests, the second carries replies.
func openSession(ctx context.Context, conn net.Conn) (*session, error) {
	mux, err := yamux.Client(conn, muxConfig())
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	out, err := openStream(ctx, mux)
	if err != nil {
		mux.Close()
		return nil, fmt.Errorf("opening request stream: %w", err)
	}

	in, err := openStream(ctx, mux)
	if err != nil {
		mux.Close()
		return nil, fmt.Errorf("opening reply stream: %w", err)
	}

	return newSession(mux, out, in), nil
}

// acceptSession starts the server side of a session over conn, accepting
// the two message streams in the order the client opens them.
func acceptSession(ctx context.Context, conn net.Conn) (*session, error) {
	mux, err := yamux.Server(conn, muxConfig())
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	in, err := acceptStream(ctx, mux)
	if err != nil {
		mux.Close()
		return nil, fmt.Errorf("accepting request stream: %w", err)
	}

	out, err := acceptStream(ctx, mux)
	if err != nil {
		mux.Close()
		return nil, fmt.Errorf("accepting reply stream: %w", err)
	}

	return newSession(mux, out, in), nil
}

func newSession(mux *yamux.Session, out, in net.Conn) *session {
	return &session{
		mux: mux,
		out: out,
		in:  in,
		enc: gob.NewEncoder(out),
		dec: gob.NewDecoder(in),
	}
}

// muxConfig returns the yamux configuration with its logging silenced.
// Session errors reach callers through return values already.
func muxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = nil
	cfg.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	return cfg
}

// send encodes m onto the outgoing message stream. The write carries a
// deadline of opTimeout, tightened to the context deadline when that is
// sooner; a peer that stops reading fails the send instead of wedging the
// session.
func (s *session) send(ctx context.Context, m msg.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(opTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.out.SetWriteDeadline(deadline)
	defer s.out.SetWriteDeadline(time.Time{})

	if err := s.enc.Encode(&m); err != nil {
		return fmt.Errorf("encoding %s: %w", m.MsgType(), err)
	}
	return nil
}

// receive blocks until a message arrives, the peer goes away, or ctx ends.
// It deliberately has no default deadline: a server waits arbitrarily long
// for the next request. Cancellation interrupts the pending read by
// forcing an immediate read deadline; a session whose receive was
// cancelled mid-message is no longer usable and must be torn down.
func (s *session) receive(ctx context.Context) (msg.Message, error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = s.in.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	var m msg.Message
	err := s.dec.Decode(&m)

	// The watcher must be gone before the deadline reset, or a late
	// cancellation could poison the next receive.
	close(done)
	wg.Wait()
	_ = s.in.SetReadDeadline(time.Time{})

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return m, nil
}

// openStream opens an extra stream on the session, honoring ctx. yamux has
// no context-aware open, so the call runs in a goroutine; an abandoned
// stream that opens late is closed rather than leaked.
func (s *session) openStream(ctx context.Context) (net.Conn, error) {
	return openStream(ctx, s.mux)
}

// acceptStream accepts the next stream the peer opens, honoring ctx.
func (s *session) acceptStream(ctx context.Context) (net.Conn, error) {
	return acceptStream(ctx, s.mux)
}

// Close tears down the session and every stream on it.
func (s *session) Close() error {
	s.in.Close()
	s.out.Close()
	return s.mux.Close()
}

func openStream(ctx context.Context, mux *yamux.Session) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := mux.Open()
		resCh <- result{conn: conn, err: err}
	}()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	select {
	case res := <-resCh:
		return res.conn, res.err
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func acceptStream(ctx context.Context, mux *yamux.Session) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conn, err := mux.AcceptStreamWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// runtimeVersion is what Hello messages carry. Development builds have no
// canonical version and report the raw build string instead, so two
// development builds still compare equal.
func runtimeVersion() string {
	if v := version.Runtime(); v != "" {
		return v
	}
	return version.Version
}
