package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/plugin"
)

func testLogger() *log.Logger {
	return log.New(log.Options{Console: io.Discard})
}

// probeSeen collects what the probe plugin's message hook observes.
var probeSeen = make(chan string, 16)

// probePlugin is a compiled-in plugin exercising the whole load path: a
// command and a message hook, wired through the host like any plugin.
type probePlugin struct{}

func init() {
	plugin.RegisterBuiltin("probe", func() plugin.Plugin { return &probePlugin{} })
}

func (p *probePlugin) Meta() plugin.Metadata {
	return plugin.Metadata{ID: "probe", Name: "Probe", Version: "1.0.0"}
}

func (p *probePlugin) Load(ctx context.Context, api *plugin.API) error {
	err := api.RegisterCommand(&command.Command{
		Name:        "echo",
		Description: "Echo the arguments back",
		Run: func(cc *command.Context) error {
			return cc.Reply("echo: %s", cc.Rest)
		},
	})
	if err != nil {
		return err
	}

	api.OnMessage(func(ctx context.Context, m *discord.Message) {
		select {
		case probeSeen <- m.Content:
		default:
		}
	})

	return nil
}

func (p *probePlugin) Unload(ctx context.Context) error { return nil }

// gwPayload mirrors the gateway envelope for the fake server's side of the
// conversation.
type gwPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// fakeDiscord serves the two surfaces the bot talks to: the REST API and
// the gateway websocket.
type fakeDiscord struct {
	rest  *httptest.Server
	gw    *httptest.Server
	conns chan *websocket.Conn

	mu     sync.Mutex
	sent   []discord.MessageSend
	sentCh chan discord.MessageSend
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()

	fd := &fakeDiscord{
		conns:  make(chan *websocket.Conn, 4),
		sentCh: make(chan discord.MessageSend, 16),
	}

	fd.gw = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("websocket.Accept(): %s", err)
			return
		}
		fd.conns <- c
	}))
	t.Cleanup(fd.gw.Close)

	fd.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/@me":
			json.NewEncoder(w).Encode(discord.User{ID: "bot-1", Username: "harness", Bot: true})

		case r.Method == http.MethodGet && r.URL.Path == "/gateway/bot":
			json.NewEncoder(w).Encode(discord.GatewayBot{
				URL:               fd.gatewayURL(),
				Shards:            1,
				SessionStartLimit: discord.SessionStartLimit{Total: 1000, Remaining: 999, MaxConcurrency: 1},
			})

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			var send discord.MessageSend
			if err := json.NewDecoder(r.Body).Decode(&send); err != nil {
				t.Errorf("decoding message send: %s", err)
			}
			fd.mu.Lock()
			fd.sent = append(fd.sent, send)
			n := len(fd.sent)
			fd.mu.Unlock()
			fd.sentCh <- send
			json.NewEncoder(w).Encode(discord.Message{ID: fmt.Sprintf("m-%d", n), Content: send.Content})

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fd.rest.Close)

	return fd
}

func (fd *fakeDiscord) gatewayURL() string {
	return "ws://" + fd.gw.Listener.Addr().String()
}

func (fd *fakeDiscord) awaitSession(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	select {
	case c := <-fd.conns:
		return c
	case <-ctx.Done():
		t.Fatalf("bot never dialed the gateway: %s", ctx.Err())
		return nil
	}
}

func sendGw(t *testing.T, ctx context.Context, conn *websocket.Conn, p gwPayload) {
	t.Helper()

	buf, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("json.Marshal(): %s", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, buf); err != nil {
		t.Fatalf("conn.Write(): %s", err)
	}
}

func recvGw(t *testing.T, ctx context.Context, conn *websocket.Conn) gwPayload {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read(): %s", err)
	}

	var p gwPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("json.Unmarshal(): %s", err)
	}

	return p
}

func TestRunFirstRunWritesDefaultConfig(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")

	if err := Run(context.Background(), dir, false); err != nil {
		t.Fatalf("Run() on an empty data dir: %s", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yml"))
	if err != nil {
		t.Fatalf("config.yml missing after first run: %s", err)
	}
	if !bytes.Equal(data, config.DefaultYAML()) {
		t.Error("config.yml differs from the embedded default")
	}

	for _, sub := range []string{"plugins", "config", "storage", "logs"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("data tree missing %s: %s", sub, err)
		}
	}
}

func TestRunRejectsUnfilledConfig(t *testing.T) {
	t.Setenv("HARNESS_TOKEN", "")

	dir := filepath.Join(t.TempDir(), "data")

	if err := Run(context.Background(), dir, false); err != nil {
		t.Fatalf("first Run(): %s", err)
	}

	// The default config has no token, so a second run must refuse it.
	err := Run(context.Background(), dir, false)
	if err == nil {
		t.Fatal("Run() accepted the unfilled default config")
	}
	if want := "failed validation"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
}

func TestBotStatusIdle(t *testing.T) {
	t.Parallel()

	paths := NewPaths(t.TempDir())
	if err := paths.EnsureTree(); err != nil {
		t.Fatalf("EnsureTree(): %s", err)
	}

	cfg := &config.Config{Token: "tok", Prefixes: []string{"t!"}, Log: config.Log{Level: "info"}}
	b, err := New(cfg, paths, testLogger())
	if err != nil {
		t.Fatalf("New(): %s", err)
	}
	defer b.Close()

	status := b.Status(context.Background())
	if got, want := status.Version, "unknown"; got != want {
		t.Errorf("version: got %q; want %q", got, want)
	}
	if got, want := status.Gateway.State, "disconnected"; got != want {
		t.Errorf("gateway state: got %q; want %q", got, want)
	}
	if status.Uptime != 0 {
		t.Errorf("uptime before Run: got %s; want 0", status.Uptime)
	}
	if len(status.Plugins) != 0 || len(status.Commands) != 0 {
		t.Errorf("idle bot reports %d plugins, %d commands; want none",
			len(status.Plugins), len(status.Commands))
	}
}

func TestBotReloadUnknownPlugin(t *testing.T) {
	t.Parallel()

	paths := NewPaths(t.TempDir())
	if err := paths.EnsureTree(); err != nil {
		t.Fatalf("EnsureTree(): %s", err)
	}

	cfg := &config.Config{Token: "tok", Prefixes: []string{"t!"}, Log: config.Log{Level: "info"}}
	b, err := New(cfg, paths, testLogger())
	if err != nil {
		t.Fatalf("New(): %s", err)
	}
	defer b.Close()

	err = b.Reload(context.Background(), "ghost")
	if err == nil {
		t.Fatal("Reload() of an unknown plugin succeeded")
	}
	if want := "ghost"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name the plugin", err)
	}
}

func TestBotRunEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fd := newFakeDiscord(t)

	paths := NewPaths(t.TempDir())
	if err := paths.EnsureTree(); err != nil {
		t.Fatalf("EnsureTree(): %s", err)
	}

	cfg := &config.Config{
		Token:          "tok",
		Prefixes:       []string{"t!"},
		EnabledPlugins: []string{"probe"},
		Log:            config.Log{Level: "info"},
	}

	b, err := New(cfg, paths, testLogger())
	if err != nil {
		t.Fatalf("New(): %s", err)
	}
	defer b.Close()
	b.api.WithBaseURL(fd.rest.URL)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx) }()

	conn := fd.awaitSession(t, ctx)
	sendGw(t, ctx, conn, gwPayload{Op: 10, Data: json.RawMessage(`{"heartbeat_interval":45000}`)})

	ident := recvGw(t, ctx, conn)
	if ident.Op != 2 {
		t.Fatalf("got op %d; want identify", ident.Op)
	}
	var d struct {
		Token   string `json:"token"`
		Intents int    `json:"intents"`
	}
	if err := json.Unmarshal(ident.Data, &d); err != nil {
		t.Fatalf("json.Unmarshal(): %s", err)
	}
	if got, want := d.Token, "tok"; got != want {
		t.Errorf("identify token: got %q; want %q", got, want)
	}
	if got, want := d.Intents, discord.IntentsAll; got != want {
		t.Errorf("identify intents: got %d; want %d", got, want)
	}

	ready := fmt.Sprintf(`{"v":10,"session_id":"sess-1","resume_gateway_url":%q,"user":{"id":"bot-1","username":"harness"}}`,
		fd.gatewayURL())
	sendGw(t, ctx, conn, gwPayload{Op: 0, Seq: 1, Type: "READY", Data: json.RawMessage(ready)})

	// From here the bot only hears our dispatches; its heartbeats just
	// need draining.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	// A prefixed message runs the probe plugin's command, which answers
	// through the REST API.
	sendGw(t, ctx, conn, gwPayload{Op: 0, Seq: 2, Type: "MESSAGE_CREATE",
		Data: json.RawMessage(`{"id":"10","channel_id":"c1","author":{"id":"u1","username":"alice"},"content":"t!echo hi there"}`)})

	select {
	case send := <-fd.sentCh:
		if got, want := send.Content, "echo: hi there"; got != want {
			t.Errorf("reply content: got %q; want %q", got, want)
		}
	case <-ctx.Done():
		t.Fatal("command reply never reached the API")
	}

	// Plain chat bypasses the dispatcher and lands in the message hook.
	sendGw(t, ctx, conn, gwPayload{Op: 0, Seq: 3, Type: "MESSAGE_CREATE",
		Data: json.RawMessage(`{"id":"11","channel_id":"c1","author":{"id":"u1","username":"alice"},"content":"just chatting"}`)})

	select {
	case content := <-probeSeen:
		if got, want := content, "just chatting"; got != want {
			t.Errorf("hook saw %q; want %q", got, want)
		}
	case <-ctx.Done():
		t.Fatal("message hook never fired")
	}

	status := b.Status(ctx)
	if got, want := status.Gateway.State, "ready"; got != want {
		t.Errorf("gateway state: got %q; want %q", got, want)
	}
	if len(status.Plugins) != 1 || status.Plugins[0].ID != "probe" || !status.Plugins[0].Loaded {
		t.Errorf("plugins = %+v; want probe loaded", status.Plugins)
	}
	for _, want := range []string{"echo", "help", "ping", "uptime"} {
		found := false
		for _, name := range status.Commands {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("commands %v missing %q", status.Commands, want)
		}
	}

	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v; want nil on shutdown", err)
		}
	case <-ctx.Done():
		t.Fatal("Run() did not return after cancel")
	}
}
