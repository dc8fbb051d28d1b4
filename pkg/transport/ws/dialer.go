// Package ws carries the control link over WebSocket, plain or TLS. The
// framing lets the control port hide behind HTTP reverse proxies.
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// subprotocol marks control traffic during the upgrade handshake.
const subprotocol = "bin"

// Dial opens a WebSocket connection to addr and wraps it as a net.Conn
// carrying binary messages. The connection lives until ctx ends.
//
// For wss the transport certificate is not verified: it is ephemeral by
// construction, and the control link's own mutual TLS is what
// authenticates peers. Verification stays on for plain ws, where the
// option is never consulted.
func Dial(ctx context.Context, addr string, secure bool) (net.Conn, error) {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s", scheme, addr)

	opts := &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}

	c, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", url, err)
	}

	return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
}
