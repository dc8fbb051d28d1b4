package udp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	kcp "github.com/xtaci/kcp-go/v5"

	"harnessbot/harness/pkg/log"
)

// maxSessions caps concurrent handlers. Sessions beyond the cap are closed
// immediately.
const maxSessions = 100

// ListenAndServe accepts KCP sessions on addr and runs handler for each on
// its own goroutine. It blocks until ctx is cancelled or the listener
// fails; cancellation returns nil.
func ListenAndServe(ctx context.Context, addr string, handler func(net.Conn) error, lgr *log.Logger) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("net.ListenPacket(udp, %s): %w", addr, err)
	}

	kl, err := kcp.ServeConn(nil, 0, 0, pc)
	if err != nil {
		pc.Close()
		return fmt.Errorf("kcp.ServeConn(): %w", err)
	}
	defer kl.Close()

	// Unblock AcceptKCP when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			kl.Close()
		case <-done:
		}
	}()

	sem := make(chan struct{}, maxSessions)
	for i := 0; i < maxSessions; i++ {
		sem <- struct{}{}
	}

	for {
		conn, err := kl.AcceptKCP()
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			return fmt.Errorf("AcceptKCP(): %w", err)
		}

		tune(conn)

		select {
		case <-sem:
		default:
			// Session table full.
			_ = conn.Close()
			continue
		}

		go func(c *kcp.UDPSession) {
			defer func() {
				_ = c.Close()
				sem <- struct{}{}
			}()
			// A panicking handler must not leak the slot.
			defer func() {
				if r := recover(); r != nil {
					lgr.ErrorMsg("handler panic: %v", r)
				}
			}()

			lgr.InfoMsg("new control connection from %s", c.RemoteAddr())
			if err := handler(c); err != nil {
				lgr.ErrorMsg("handling %s: %s", c.RemoteAddr(), err)
			}
		}(conn)
	}
}

// isClosed reports whether err means the listener was shut down. kcp-go
// surfaces closure inconsistently, including as a bare string.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
