package control

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"harnessbot/harness/pkg/control/msg"
	"harnessbot/harness/pkg/log"
)

func testLogger() *log.Logger {
	return log.New(log.Options{Console: io.Discard})
}

// sessionPair establishes both ends of a session over an in-memory pipe.
func sessionPair(t *testing.T) (cli, srv *session) {
	t.Helper()

	c1, c2 := net.Pipe()
	ctx := context.Background()

	var srvErr error
	done := make(chan struct{})
	go func() {
		srv, srvErr = acceptSession(ctx, c2)
		close(done)
	}()

	cli, err := openSession(ctx, c1)
	if err != nil {
		t.Fatalf("openSession() error = %v", err)
	}
	<-done
	if srvErr != nil {
		t.Fatalf("acceptSession() error = %v", srvErr)
	}

	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return cli, srv
}

func TestSession_RoundTrip(t *testing.T) {
	t.Parallel()

	cli, srv := sessionPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.send(ctx, msg.Hello{Version: "v0.1.0"}); err != nil {
		t.Fatalf("send() error = %v", err)
	}

	m, err := srv.receive(ctx)
	if err != nil {
		t.Fatalf("receive() error = %v", err)
	}
	hello, ok := m.(msg.Hello)
	if !ok {
		t.Fatalf("receive() = %T, want msg.Hello", m)
	}
	if hello.Version != "v0.1.0" {
		t.Errorf("Version = %q, want %q", hello.Version, "v0.1.0")
	}

	if err := srv.send(ctx, msg.ReloadReply{Err: "nope"}); err != nil {
		t.Fatalf("send() error = %v", err)
	}

	m, err = cli.receive(ctx)
	if err != nil {
		t.Fatalf("receive() error = %v", err)
	}
	reply, ok := m.(msg.ReloadReply)
	if !ok {
		t.Fatalf("receive() = %T, want msg.ReloadReply", m)
	}
	if reply.Err != "nope" {
		t.Errorf("Err = %q, want %q", reply.Err, "nope")
	}
}

func TestSession_ReceiveCancelled(t *testing.T) {
	t.Parallel()

	_, srv := sessionPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := srv.receive(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("receive() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("receive() took %v to notice cancellation", elapsed)
	}
}

func TestSession_SendAfterPeerClose(t *testing.T) {
	t.Parallel()

	cli, srv := sessionPair(t)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The first send may still be buffered; keep sending until the
	// session failure surfaces.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := cli.send(ctx, msg.Status{}); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("send() kept succeeding after peer close")
}
