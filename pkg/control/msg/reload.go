package msg

import "encoding/gob"

func init() {
	gob.Register(Reload{})
	gob.Register(ReloadReply{})
}

// Reload asks the host to reload one plugin by id.
type Reload struct {
	ID string
}

// MsgType implements Message.
func (m Reload) MsgType() string {
	return "Reload"
}

// ReloadReply reports the outcome of a Reload. Err is empty on success;
// failures cross the wire as strings because gob cannot carry arbitrary
// error values.
type ReloadReply struct {
	Err string
}

// MsgType implements Message.
func (m ReloadReply) MsgType() string {
	return "ReloadReply"
}
