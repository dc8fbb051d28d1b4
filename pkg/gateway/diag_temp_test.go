package gateway

import (
	"runtime"
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"harnessbot/harness/pkg/log"
)

func TestDiagReconnect(t *testing.T) {
	fg := newFakeGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sess := NewSession(Config{URL: fg.url(), Token: "t"}, log.New(log.Options{Verbose: true, Console: os.Stderr}))
	sess.backoffMin = 10 * time.Millisecond
	sess.backoffMax = 20 * time.Millisecond

	var dials atomic.Int32
	sess.WithDial(func(ctx context.Context, url string) (*websocket.Conn, error) {
		n := dials.Add(1)
		t.Logf("%s dial #%d to %s", time.Now().Format("15:04:05.000"), n, url)
		c, err := defaultDial(ctx, url)
		t.Logf("%s dial #%d done err=%v", time.Now().Format("15:04:05.000"), n, err)
		return c, err
	})

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := fg.accept(t, ctx)
	sendHello(t, ctx, conn, 60*time.Second)
	if p := recvPayload(t, ctx, conn); p.Op != opIdentify {
		t.Fatalf("got op %d; want identify", p.Op)
	}
	sendReady(t, ctx, conn, 1, "sess-1", fg.url())
	sendPayload(t, ctx, conn, payload{Op: opReconnect})

	time.Sleep(2 * time.Second)
	t.Logf("dials=%d state=%s", dials.Load(), sess.State())
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Logf("STACKS:\n%s", buf[:n])
	cancel()
	t.Logf("Run err: %v", <-done)
}
