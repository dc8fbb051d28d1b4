package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"harnessbot/harness/pkg/crypto"
	"harnessbot/harness/pkg/log"
)

// maxSessions caps concurrent handlers. Upgrades beyond the cap are
// rejected with 503.
const maxSessions = 100

// ListenAndServe runs a WebSocket endpoint on addr and hands every
// upgraded connection to handler. With secure set the endpoint serves TLS
// with an ephemeral certificate; clients do not verify it, the control
// link's own mutual TLS is what authenticates peers. The call blocks until
// ctx is cancelled or the server fails; cancellation returns nil.
func ListenAndServe(ctx context.Context, addr string, secure bool, handler func(net.Conn) error, lgr *log.Logger) error {
	nl, err := newListener(addr, secure)
	if err != nil {
		return err
	}
	defer nl.Close()

	sem := make(chan struct{}, maxSessions)
	for i := 0; i < maxSessions; i++ {
		sem <- struct{}{}
	}

	server := &http.Server{
		Handler: upgradeHandler(ctx, handler, lgr, sem),

		// The link is long-lived. Only the upgrade request is bounded.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return serveWithContext(ctx, server, nl)
}

func newListener(addr string, secure bool) (net.Listener, error) {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen(tcp, %s): %w", addr, err)
	}

	if secure {
		tlsNl, err := wrapWithTLS(nl)
		if err != nil {
			nl.Close()
			return nil, fmt.Errorf("wrapping with TLS: %w", err)
		}
		nl = tlsNl
	}

	return nl, nil
}

// wrapWithTLS terminates TLS with a certificate minted from a throwaway
// key. Nobody verifies it; it only gives wss its encrypted framing.
func wrapWithTLS(nl net.Listener) (net.Listener, error) {
	key, err := crypto.GenerateRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("crypto.GenerateRandomString(32): %w", err)
	}

	_, cert, err := crypto.GenerateCertificates(key)
	if err != nil {
		return nil, fmt.Errorf("crypto.GenerateCertificates(): %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	return tls.NewListener(nl, cfg), nil
}

func upgradeHandler(ctx context.Context, handler func(net.Conn) error, lgr *log.Logger, sem chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-sem:
			defer func() { sem <- struct{}{} }()
			serveUpgrade(ctx, w, r, handler, lgr)

		default:
			// Session table full.
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	}
}

func serveUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, handler func(net.Conn) error, lgr *log.Logger) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		lgr.ErrorMsg("websocket.Accept(): %s", err)
		return
	}

	conn := websocket.NetConn(ctx, c, websocket.MessageBinary)
	defer func() { _ = conn.Close() }()

	// A panicking handler must not take the server down.
	defer func() {
		if r := recover(); r != nil {
			lgr.ErrorMsg("handler panic: %v", r)
		}
	}()

	lgr.InfoMsg("new control connection from %s", r.RemoteAddr)
	if err := handler(conn); err != nil {
		lgr.ErrorMsg("handling %s: %s", r.RemoteAddr, err)
	}
}

// serveWithContext runs the HTTP server until it fails or ctx ends.
func serveWithContext(ctx context.Context, server *http.Server, nl net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(nl)
	}()

	select {
	case <-ctx.Done():
		_ = nl.Close()
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("serving after cancellation: %w", err)

	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http.Server.Serve(): %w", err)
	}
}
