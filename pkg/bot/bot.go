// Package bot assembles the harness: config, store, REST client, plugin
// host, command dispatch, the gateway session and the control server,
// with ordered startup and shutdown.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"harnessbot/harness/pkg/command"
	"harnessbot/harness/pkg/config"
	"harnessbot/harness/pkg/control"
	"harnessbot/harness/pkg/control/msg"
	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/gateway"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/plugin"
	"harnessbot/harness/pkg/script"
	"harnessbot/harness/pkg/store"
	"harnessbot/harness/pkg/version"
)

// unloadTimeout caps how long plugins get to unload during shutdown.
const unloadTimeout = 10 * time.Second

// Run starts the bot with the data directory at dataDir and blocks until
// ctx is cancelled or something fatal happens. A missing config file is
// not an error: the default is written and the user is told to fill it in.
func Run(ctx context.Context, dataDir string, verbose bool) error {
	lgr := log.New(log.Options{Verbose: verbose})
	paths := NewPaths(dataDir)

	if err := paths.EnsureTree(); err != nil {
		return err
	}

	cfg, err := config.Load(paths.ConfigFile())
	if errors.Is(err, fs.ErrNotExist) {
		if err := config.WriteDefault(paths.ConfigFile()); err != nil {
			return err
		}
		lgr.WarnMsg("wrote a fresh config to %s, fill it out and start the bot again", paths.ConfigFile())
		return nil
	}
	if err != nil {
		return err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			lgr.ErrorMsg("config: %s", e)
		}
		return fmt.Errorf("config at %s failed validation", paths.ConfigFile())
	}

	// The -v flag outranks the configured level.
	if !verbose {
		lvl, err := log.ParseLevel(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("'log.level': %w", err)
		}
		lgr.SetConsoleLevel(lvl)
	}

	if err := lgr.OpenLogDir(paths.LogsDir()); err != nil {
		return err
	}
	defer lgr.Close()

	b, err := New(cfg, paths, lgr)
	if err != nil {
		return err
	}
	defer b.Close()

	return b.Run(ctx)
}

// Bot is one assembled harness instance.
type Bot struct {
	cfg   *config.Config
	paths Paths
	lgr   *log.Logger

	st   *store.Store
	api  *discord.Client
	reg  *command.Registry
	disp *command.Dispatcher
	host *plugin.Host

	mu      sync.Mutex
	gw      *gateway.Session
	started time.Time
}

// New assembles a bot from a validated config. Nothing talks to Discord
// until Run.
func New(cfg *config.Config, paths Paths, lgr *log.Logger) (*Bot, error) {
	st, err := store.Open(paths.StoreFile())
	if err != nil {
		return nil, err
	}

	reg := command.NewRegistry()
	api := discord.NewClient(cfg.Token, lgr)
	matcher := command.NewMatcher(cfg.Prefixes, cfg.PrefixOrMention)
	disp := command.NewDispatcher(reg, matcher, api, st, lgr)

	host := plugin.NewHost(plugin.HostConfig{
		PluginsDir:    paths.PluginsDir(),
		ConfigDir:     paths.PluginConfigDir(),
		StorageDir:    paths.StorageDir(),
		Enabled:       cfg.EnabledPlugins,
		ScriptFactory: script.New,
	}, reg, api, st, lgr)

	return &Bot{
		cfg:   cfg,
		paths: paths,
		lgr:   lgr,
		st:    st,
		api:   api,
		reg:   reg,
		disp:  disp,
		host:  host,
	}, nil
}

// Close releases what New opened. Run tears its own pieces down first.
func (b *Bot) Close() error {
	return b.st.Close()
}

// Run connects to Discord and blocks until ctx is cancelled or the
// gateway gives up for good. Shutdown drains in order: gateway, control,
// in-flight commands, plugins.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.started = time.Now()
	started := b.started
	b.mu.Unlock()

	err := command.RegisterBuiltins(command.BuiltinDeps{
		Registry: b.reg,
		Latency:  b.gatewayLatency,
		Started:  started,
		Version:  version.Runtime(),
	})
	if err != nil {
		return err
	}

	var ctrlSpec config.ListenSpec
	if b.cfg.Control.Enabled {
		ctrlSpec, err = config.ParseListenSpec(b.cfg.Control.Listen)
		if err != nil {
			return fmt.Errorf("'control.listen': %w", err)
		}
	}

	me, err := b.api.Me(ctx)
	if err != nil {
		if discord.IsUnauthorized(err) {
			return fmt.Errorf("discord rejected the token, check 'token' in %s", b.paths.ConfigFile())
		}
		return fmt.Errorf("asking discord who we are: %w", err)
	}
	b.disp.SetSelf(me.ID)
	b.lgr.InfoMsg("logged in as %s (%s)", me.Tag(), me.ID)

	gwInfo, err := b.api.GatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("discovering the gateway: %w", err)
	}
	b.lgr.DebugMsg("gateway %s, %d of %d session starts left", gwInfo.URL,
		gwInfo.SessionStartLimit.Remaining, gwInfo.SessionStartLimit.Total)

	if err := b.host.LoadAll(ctx); err != nil {
		b.lgr.WarnMsg("plugins: %s", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := gateway.NewSession(gateway.Config{
		URL:     gwInfo.URL,
		Token:   b.cfg.Token,
		Intents: discord.IntentsAll,
		Sink:    func(ev gateway.Event) { b.handleEvent(runCtx, ev) },
	}, b.lgr)

	b.mu.Lock()
	b.gw = sess
	b.mu.Unlock()

	gwErr := make(chan error, 1)
	go func() { gwErr <- sess.Run(runCtx) }()

	var ctrlErr chan error
	if b.cfg.Control.Enabled {
		srv := control.NewServer(ctrlSpec, b.cfg.Control.GetKey(), b, b.reg, b.lgr.Named("control"))
		b.lgr.InfoMsg("control server on %s://%s", ctrlSpec.Protocol, ctrlSpec.Addr())
		ctrlErr = make(chan error, 1)
		go func() { ctrlErr <- srv.Run(runCtx) }()
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			b.lgr.InfoMsg("shutting down")
			break loop
		case err := <-gwErr:
			gwErr = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = fmt.Errorf("gateway: %w", err)
			}
			break loop
		case err := <-ctrlErr:
			// The bot outlives its admin socket.
			ctrlErr = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				b.lgr.ErrorMsg("control server died: %s", err)
			}
		}
	}

	cancel()
	if gwErr != nil {
		<-gwErr
	}
	if ctrlErr != nil {
		<-ctrlErr
	}

	b.disp.Wait()

	// The run context is gone; plugins still get a bounded goodbye.
	unloadCtx, cancelUnload := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancelUnload()
	b.host.UnloadAll(unloadCtx)

	return runErr
}

// handleEvent is the gateway sink. It runs on the session's dispatch
// goroutine, so events arrive in gateway order; command handlers hop onto
// their own goroutines inside the dispatcher.
func (b *Bot) handleEvent(ctx context.Context, ev gateway.Event) {
	switch ev.Type {
	case "READY":
		var ready discord.Ready
		if err := json.Unmarshal(ev.Data, &ready); err != nil {
			b.lgr.WarnMsg("undecodable READY payload: %s", err)
			return
		}
		b.disp.SetSelf(ready.User.ID)
	case "MESSAGE_CREATE":
		var m discord.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			b.lgr.WarnMsg("undecodable MESSAGE_CREATE payload: %s", err)
			return
		}
		if b.disp.HandleMessage(ctx, &m) {
			return
		}
		b.host.EmitMessage(ctx, &m)
	}
}

// gatewayLatency backs the ping command. Zero before the session exists.
func (b *Bot) gatewayLatency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gw == nil {
		return 0
	}
	return b.gw.Latency()
}

// Status implements control.Admin.
func (b *Bot) Status(ctx context.Context) msg.StatusReply {
	b.mu.Lock()
	gw := b.gw
	started := b.started
	b.mu.Unlock()

	v := version.Runtime()
	if v == "" {
		v = version.Version
	}

	reply := msg.StatusReply{
		Version: v,
		Gateway: msg.GatewayStatus{State: gateway.StateDisconnected.String()},
	}
	if !started.IsZero() {
		reply.Uptime = time.Since(started)
	}
	if gw != nil {
		reply.Gateway = msg.GatewayStatus{State: gw.State().String(), Latency: gw.Latency()}
	}

	for _, st := range b.host.States() {
		ps := msg.PluginStatus{
			ID:      st.ID,
			Name:    st.Meta.Name,
			Version: st.Meta.Version,
			Loaded:  st.Loaded,
		}
		if st.Err != nil {
			ps.Err = st.Err.Error()
		}
		reply.Plugins = append(reply.Plugins, ps)
	}

	for _, cmd := range b.reg.List() {
		reply.Commands = append(reply.Commands, cmd.Name)
	}

	return reply
}

// Reload implements control.Admin.
func (b *Bot) Reload(ctx context.Context, id string) error {
	return b.host.Reload(ctx, id)
}
