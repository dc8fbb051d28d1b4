// Package udp carries the control link over KCP, a reliable ordered stream
// on top of UDP datagrams. Useful where TCP to the control port is filtered
// but UDP passes.
package udp

import (
	"context"
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Dial opens a KCP session to addr from an ephemeral local port. KCP has
// no connection handshake, so the call does not block on the network; a
// dead peer surfaces on the first read instead.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("net.ListenPacket(udp, :0): %w", err)
	}

	// No block cipher and no FEC shards: reliability comes from KCP
	// itself, confidentiality from the mutual TLS layered above.
	conn, err := kcp.NewConn(raddr.String(), nil, 0, 0, pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("kcp.NewConn(%s): %w", raddr.String(), err)
	}

	tune(conn)
	return conn, nil
}

// tune applies the latency-over-throughput profile: fast retransmit, no
// congestion window, stream mode, generous windows.
func tune(conn *kcp.UDPSession) {
	conn.SetNoDelay(1, 10, 2, 1)
	conn.SetStreamMode(true)
	conn.SetWindowSize(1024, 1024)
}
