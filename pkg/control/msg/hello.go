package msg

import "encoding/gob"

func init() {
	gob.Register(Hello{})
}

// Hello opens every session. The client sends one carrying its version;
// the server answers with its own version and the session id it assigned.
// Mismatched versions are worth a warning but never refuse the session.
type Hello struct {
	Version   string
	SessionID string
}

// MsgType implements Message.
func (m Hello) MsgType() string {
	return "Hello"
}
