// Package transport carries the control link. A listen spec picks one of
// four framings for the same byte stream: plain TCP, WebSocket (ws or wss)
// and KCP over UDP. When a control key is configured the stream is upgraded
// to mutual TLS with certificates derived from the key, so only admins who
// know the key can complete a handshake. What flows over the stream is the
// control package's business; this package only delivers net.Conns.
package transport

import (
	"context"
	"fmt"
	"net"

	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/transport/tcp"
	"harnessbot/harness/pkg/transport/udp"
	"harnessbot/harness/pkg/transport/ws"
)

// Handler processes one accepted connection. The connection is closed when
// the handler returns.
type Handler func(net.Conn) error

// Dial connects to the control address in spec. A non-empty key upgrades
// the connection to mutual TLS before returning it.
func Dial(ctx context.Context, spec config.ListenSpec, key string, lgr *log.Logger) (net.Conn, error) {
	addr := spec.Addr()

	var (
		conn net.Conn
		err  error
	)
	switch spec.Protocol {
	case config.ProtoWS, config.ProtoWSS:
		conn, err = ws.Dial(ctx, addr, spec.Protocol == config.ProtoWSS)
	case config.ProtoUDP:
		conn, err = udp.Dial(ctx, addr)
	default:
		conn, err = tcp.Dial(ctx, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s://%s: %w", spec.Protocol, addr, err)
	}

	if key != "" {
		tlsConn, err := upgradeClient(conn, key)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("upgrading %s://%s: %w", spec.Protocol, addr, err)
		}
		lgr.DebugMsg("mutual TLS established with %s", conn.RemoteAddr())
		conn = tlsConn
	}

	return conn, nil
}

// ListenAndServe listens on the control address in spec and runs handler
// for every accepted connection. A non-empty key wraps each connection in
// mutual TLS before the handler sees it. The call blocks until ctx is
// cancelled or the listener fails; cancellation returns nil.
func ListenAndServe(ctx context.Context, spec config.ListenSpec, key string, handler Handler, lgr *log.Logger) error {
	addr := spec.Addr()

	if key != "" {
		wrapped, err := wrapServer(handler, key, lgr)
		if err != nil {
			return fmt.Errorf("building TLS wrapper: %w", err)
		}
		handler = wrapped
	}

	lgr.InfoMsg("control listening on %s://%s", spec.Protocol, addr)

	switch spec.Protocol {
	case config.ProtoWS, config.ProtoWSS:
		return ws.ListenAndServe(ctx, addr, spec.Protocol == config.ProtoWSS, handler, lgr)
	case config.ProtoUDP:
		return udp.ListenAndServe(ctx, addr, handler, lgr)
	default:
		return tcp.ListenAndServe(ctx, addr, handler, lgr)
	}
}
