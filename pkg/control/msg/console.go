package msg

import "encoding/gob"

func init() {
	gob.Register(Console{})
}

// Console asks the server to open a dedicated stream speaking a line
// protocol: every line the client sends is dispatched as a command
// invocation and the replies are written back. The stream lives until the
// client closes it; there is no reply message.
type Console struct{}

// MsgType implements Message.
func (m Console) MsgType() string {
	return "Console"
}
