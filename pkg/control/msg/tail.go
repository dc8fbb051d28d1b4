package msg

import "encoding/gob"

func init() {
	gob.Register(Tail{})
}

// Tail asks the server to open a dedicated stream and write log lines to
// it. The stream carries one line per log record until the client closes
// it; there is no reply message.
type Tail struct{}

// MsgType implements Message.
func (m Tail) MsgType() string {
	return "Tail"
}
