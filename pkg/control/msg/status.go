package msg

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(Status{})
	gob.Register(StatusReply{})
}

// Status asks the bot for a snapshot of itself.
type Status struct{}

// MsgType implements Message.
func (m Status) MsgType() string {
	return "Status"
}

// GatewayStatus describes the Discord gateway connection.
type GatewayStatus struct {
	State   string
	Latency time.Duration
}

// PluginStatus describes one plugin known to the host.
type PluginStatus struct {
	ID      string
	Name    string
	Version string
	Loaded  bool
	Err     string
}

// StatusReply answers Status.
type StatusReply struct {
	Version  string
	Uptime   time.Duration
	Gateway  GatewayStatus
	Plugins  []PluginStatus
	Commands []string
}

// MsgType implements Message.
func (m StatusReply) MsgType() string {
	return "StatusReply"
}
