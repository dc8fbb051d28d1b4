// Package gateway maintains the bot's websocket session with Discord:
// hello/identify/resume handshakes, heartbeats, and ordered event dispatch.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Gateway opcodes, the ones a bot sends or receives.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opResume       = 6
	opReconnect    = 7
	opInvalidSess  = 9
	opHello        = 10
	opHeartbeatACK = 11
)

// payload is the gateway envelope: {op, d, s, t}.
type payload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// Event is one dispatched gateway event.
type Event struct {
	Type string
	Seq  int64
	Data json.RawMessage
}

// Sink receives dispatched events. The session calls it from a single
// goroutine, so events arrive in gateway order; fan-out belongs above.
type Sink func(ev Event)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateResuming
	StateReady
)

// String returns the state name for status output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FatalError is a gateway close that must not be retried, like a bad token
// or disallowed intents.
type FatalError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Reason)
}

func isFatalClose(code websocket.StatusCode) bool {
	switch int(code) {
	case 4004, 4010, 4011, 4012, 4013, 4014:
		return true
	default:
		return false
	}
}

func closeReason(code websocket.StatusCode) string {
	switch int(code) {
	case 4004:
		return "authentication failed"
	case 4010:
		return "invalid shard"
	case 4011:
		return "sharding required"
	case 4012:
		return "invalid API version"
	case 4013:
		return "invalid intents"
	case 4014:
		return "disallowed intents"
	default:
		return "unknown"
	}
}

// classify turns a read error into a FatalError when the peer closed with a
// code that retrying cannot fix.
func classify(err error) error {
	code := websocket.CloseStatus(err)
	if code == -1 {
		return err // not a close frame
	}
	if isFatalClose(code) {
		return &FatalError{Code: code, Reason: closeReason(code)}
	}

	return fmt.Errorf("gateway closed with code %d", code)
}
