// Package msg defines the messages exchanged on the control link.
//
// Requests travel on one yamux stream and replies on another, both as gob
// values of the Message interface. Every concrete type registers itself
// with gob in an init function so either end can decode messages it did
// not send.
package msg

// Message is implemented by every control message.
type Message interface {
	// MsgType names the message for logs and errors.
	MsgType() string
}
