// Package tcp carries the control link over plain TCP.
package tcp

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to addr with keep-alive enabled, so a dead peer eventually
// fails reads instead of hanging them forever.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.DialContext(tcp, %s): %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}

	return conn, nil
}
