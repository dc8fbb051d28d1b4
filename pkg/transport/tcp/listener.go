package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"harnessbot/harness/pkg/log"
)

// maxSessions caps concurrent handlers. Connections beyond the cap are
// closed immediately.
const maxSessions = 100

// ListenAndServe accepts connections on addr and runs handler for each on
// its own goroutine. It blocks until ctx is cancelled or the listener
// fails; cancellation returns nil.
func ListenAndServe(ctx context.Context, addr string, handler func(net.Conn) error, lgr *log.Logger) error {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("net.Listen(tcp, %s): %w", addr, err)
	}
	defer nl.Close()

	// Unblock Accept when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			nl.Close()
		case <-done:
		}
	}()

	sem := make(chan struct{}, maxSessions)
	for i := 0; i < maxSessions; i++ {
		sem <- struct{}{}
	}

	for {
		conn, err := nl.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("Accept(): %w", err)
		}

		select {
		case <-sem:
		default:
			// Session table full.
			conn.Close()
			continue
		}

		go func(c net.Conn) {
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
