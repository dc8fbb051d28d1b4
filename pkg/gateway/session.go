package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/log"
)

const (
	// identifySpacing is the minimum gap between two IDENTIFY payloads.
	// Discord invalidates sessions that identify faster than this.
	identifySpacing = 5 * time.Second

	backoffMin = 1 * time.Second
	backoffMax = 64 * time.Second

	// readLimit replaces the library default, which READY payloads outgrow.
	readLimit = 1 << 22
)

var (
	errReconnect   = errors.New("reconnect requested by gateway")
	errInvalidSess = errors.New("session invalidated by gateway")
)

// DialFunc opens the websocket to url. Tests swap it for a local server.
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Config holds what a session needs to connect.
type Config struct {
	URL     string // gateway URL from /gateway/bot, without query parameters
	Token   string
	Intents int
	Sink    Sink
}

// Session is a single bot connection to the gateway. It reconnects on its
// own until the context ends or the gateway rejects it for good.
type Session struct {
	cfg  Config
	lgr  *log.Logger
	dial DialFunc

	backoffMin   time.Duration
	backoffMax   time.Duration
	identifyWait time.Duration

	mu           sync.Mutex
	state        State
	seq          int64
	sessionID    string
	resumeURL    string
	latency      time.Duration
	lastIdentify time.Time
}

// NewSession creates a session. It does not connect until Run.
func NewSession(cfg Config, lgr *log.Logger) *Session {
	return &Session{
		cfg:          cfg,
		lgr:          lgr.Named("gateway"),
		dial:         defaultDial,
		backoffMin:   backoffMin,
		backoffMax:   backoffMax,
		identifyWait: identifySpacing,
	}
}

// WithDial overrides how the websocket is opened. Used in tests.
func (s *Session) WithDial(dial DialFunc) *Session {
	s.dial = dial
	return s
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", url, err)
	}
	conn.SetReadLimit(readLimit)

	return conn, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Seq returns the last sequence number seen on a dispatch.
func (s *Session) Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seq
}

// Latency returns the time between the last heartbeat and its ack.
func (s *Session) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latency
}

// SessionID returns the session id Discord assigned, or "" before READY.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

// Run connects and keeps the session alive until ctx ends or the gateway
// closes with a fatal code. Transient failures reconnect with exponential
// backoff, reset after every successful READY or RESUMED.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	backoff := s.backoffMin
	for {
		ready, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}

		if ready {
			backoff = s.backoffMin
		}

		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		s.lgr.WarnMsg("gateway connection lost (%s), reconnecting in %s", err, wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if backoff < s.backoffMax {
			backoff *= 2
		}
	}
}

// runOnce performs one dial → hello → identify/resume → consume cycle. It
// reports whether the session reached READY or RESUMED before failing.
func (s *Session) runOnce(ctx context.Context) (bool, error) {
	s.setState(StateConnecting)

	url := s.gatewayURL()
	conn, err := s.dial(ctx, url)
	if err != nil {
		return false, fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	p, err := s.read(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("reading hello: %w", err)
	}
	if p.Op != opHello {
		return false, fmt.Errorf("expected hello, got op %d", p.Op)
	}

	var hello struct {
		HeartbeatInterval float64 `json:"heartbeat_interval"` // milliseconds
	}
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		return false, fmt.Errorf("unmarshaling hello: %w", err)
	}
	interval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	if interval <= 0 {
		return false, fmt.Errorf("hello carried no heartbeat interval")
	}

	if s.resumable() {
		s.setState(StateResuming)
		err = s.sendResume(ctx, conn)
	} else {
		err = s.sendIdentify(ctx, conn)
	}
	if err != nil {
		return false, err
	}

	return s.consume(ctx, conn, interval)
}

// consume runs the heartbeat timer and the read loop until the connection
// drops. It is the only goroutine that calls the sink.
func (s *Session) consume(ctx context.Context, conn *websocket.Conn, interval time.Duration) (bool, error) {
	type readResult struct {
		p   payload
		err error
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	reads := make(chan readResult)
	go func() {
		for {
			p, err := s.read(readCtx, conn)
			select {
			case reads <- readResult{p: p, err: err}:
				if err != nil {
					return
				}
			case <-readCtx.Done():
				return
			}
		}
	}()

	// The first beat lands at a random point inside the first interval so a
	// fleet of bots does not thunder in step.
	beat := time.NewTimer(time.Duration(rand.Int63n(int64(interval))))
	defer beat.Stop()

	acked := true
	ready := false
	var lastBeat time.Time

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutting down")
			return ready, ctx.Err()

		case <-beat.C:
			if !acked {
				conn.Close(websocket.StatusCode(4000), "heartbeat ack missed")
				return ready, fmt.Errorf("heartbeat not acknowledged within %s", interval)
			}
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				return ready, err
			}
			acked = false
			lastBeat = time.Now()
			beat.Reset(interval)

		case r := <-reads:
			if r.err != nil {
				return ready, classify(r.err)
			}

			switch r.p.Op {
			case opDispatch:
				s.advanceSeq(r.p.Seq)
				s.handleDispatch(r.p, &ready)

			case opHeartbeat:
				// The gateway may ask for an immediate beat.
				if err := s.sendHeartbeat(ctx, conn); err != nil {
					return ready, err
				}
				acked = false
				lastBeat = time.Now()

			case opHeartbeatACK:
				acked = true
				s.setLatency(time.Since(lastBeat))

			case opReconnect:
				conn.Close(websocket.StatusServiceRestart, "reconnect requested")
				return ready, errReconnect

			case opInvalidSess:
				var resumable bool
				_ = json.Unmarshal(r.p.Data, &resumable)
				if !resumable {
					s.clearSession()
				}
				conn.Close(websocket.StatusCode(4000), "session invalidated")
				return ready, errInvalidSess

			default:
				s.lgr.DebugMsg("ignoring op %d", r.p.Op)
			}
		}
	}
}

func (s *Session) handleDispatch(p payload, ready *bool) {
	switch p.Type {
	case "READY":
		var rd discord.Ready
		if err := json.Unmarshal(p.Data, &rd); err != nil {
			s.lgr.ErrorMsg("unmarshaling ready: %s", err)
		} else {
			s.mu.Lock()
			s.sessionID = rd.SessionID
			s.resumeURL = rd.ResumeGatewayURL
			s.mu.Unlock()
			s.lgr.InfoMsg("connected as %s (session %s)", rd.User.Tag(), rd.SessionID)
		}
		s.setState(StateReady)
		*ready = true

	case "RESUMED":
		s.lgr.InfoMsg("session resumed")
		s.setState(StateReady)
		*ready = true
	}

	if s.cfg.Sink != nil {
		s.cfg.Sink(Event{Type: p.Type, Seq: p.Seq, Data: p.Data})
	}
}

func (s *Session) sendIdentify(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	since := time.Since(s.lastIdentify)
	s.mu.Unlock()

	if wait := s.identifyWait - since; wait > 0 {
		s.lgr.DebugMsg("pacing identify by %s", wait.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	data := struct {
		Token      string `json:"token"`
		Intents    int    `json:"intents"`
		Properties struct {
			OS      string `json:"os"`
			Browser string `json:"browser"`
			Device  string `json:"device"`
		} `json:"properties"`
	}{
		Token:   s.cfg.Token,
		Intents: s.cfg.Intents,
	}
	data.Properties.OS = runtime.GOOS
	data.Properties.Browser = "harness"
	data.Properties.Device = "harness"

	if err := s.send(ctx, conn, opIdentify, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastIdentify = time.Now()
	s.mu.Unlock()

	return nil
}

func (s *Session) sendResume(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	data := struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
		Seq       int64  `json:"seq"`
	}{
		Token:     s.cfg.Token,
		SessionID: s.sessionID,
		Seq:       s.seq,
	}
	s.mu.Unlock()

	return s.send(ctx, conn, opResume, data)
}

func (s *Session) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	var data interface{}
	if seq := s.Seq(); seq > 0 {
		data = seq
	}

	return s.send(ctx, conn, opHeartbeat, data)
}

func (s *Session) send(ctx context.Context, conn *websocket.Conn, op int, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("json.Marshal(): %w", err)
	}

	buf, err := json.Marshal(payload{Op: op, Data: raw})
	if err != nil {
		return fmt.Errorf("json.Marshal(): %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, buf); err != nil {
		return fmt.Errorf("writing op %d: %w", op, err)
	}

	return nil
}

// read decodes one envelope. Connection errors pass through unwrapped so
// the caller can inspect the close status.
func (s *Session) read(ctx context.Context, conn *websocket.Conn) (payload, error) {
	var p payload

	_, data, err := conn.Read(ctx)
	if err != nil {
		return p, err
	}

	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshaling payload: %w", err)
	}

	return p, nil
}

func (s *Session) gatewayURL() string {
	s.mu.Lock()
	base := s.cfg.URL
	if s.sessionID != "" && s.resumeURL != "" {
		base = s.resumeURL
	}
	s.mu.Unlock()

	if strings.Contains(base, "?") {
		return base
	}

	return strings.TrimSuffix(base, "/") + "/?v=10&encoding=json"
}

func (s *Session) resumable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID != "" && s.resumeURL != ""
}

func (s *Session) clearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = ""
	s.resumeURL = ""
	s.seq = 0
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

func (s *Session) setLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latency = d
}

// advanceSeq moves the cursor forward, never back, so a stale dispatch
// cannot shrink the resume point.
func (s *Session) advanceSeq(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > s.seq {
		s.seq = seq
	}
}
