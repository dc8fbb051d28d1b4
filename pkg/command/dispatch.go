package command

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"harnessbot/harness/pkg/discord"
	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/semaphore"
	"harnessbot/harness/pkg/store"
)

const (
	dispatchSlots   = 64
	dispatchTimeout = 5 * time.Second
)

// Dispatcher feeds message-create events through the matcher and runs the
// matching command on its own goroutine, capped by a slot pool.
type Dispatcher struct {
	reg *Registry
	api Replier
	st  *store.Store // optional; nil skips usage recording
	sem *semaphore.Semaphore
	lgr *log.Logger

	mu      sync.RWMutex
	matcher *Matcher
	selfID  string

	wg sync.WaitGroup
}

// NewDispatcher wires the dispatcher. The store may be nil.
func NewDispatcher(reg *Registry, m *Matcher, api Replier, st *store.Store, lgr *log.Logger) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		api:     api,
		st:      st,
		sem:     semaphore.New(dispatchSlots, dispatchTimeout),
		lgr:     lgr.Named("dispatch"),
		matcher: m,
	}
}

// SetSelf records the bot's own user id, known after READY. Messages from
// that id are ignored.
func (d *Dispatcher) SetSelf(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.selfID = id
}

// SetMatcher swaps the trigger rules, used when the config reloads.
func (d *Dispatcher) SetMatcher(m *Matcher) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.matcher = m
}

func (d *Dispatcher) snapshot() (*Matcher, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.matcher, d.selfID
}

// HandleMessage inspects one message and, when it invokes a command, runs
// the handler. Bot authors and the bot itself are ignored, as are unknown
// commands, so ordinary chat stays silent. It reports whether the message
// invoked a command; callers use that to keep command traffic out of the
// plugin message hooks.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *discord.Message) bool {
	matcher, selfID := d.snapshot()

	if msg.Author.Bot || (selfID != "" && msg.Author.ID == selfID) {
		return false
	}

	inv, ok := matcher.Match(msg.Content, selfID)
	if !ok {
		return false
	}

	cmd, ok := d.reg.Lookup(inv.Name)
	if !ok {
		d.lgr.DebugMsg("no command %q", inv.Name)
		return false
	}

	if err := d.sem.Acquire(ctx); err != nil {
		d.lgr.WarnMsg("dropping %q from %s: %s", inv.Name, msg.Author.Tag(), err)
		return true
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release()
		d.run(ctx, cmd, inv, msg)
	}()

	return true
}

func (d *Dispatcher) run(ctx context.Context, cmd *Command, inv Invocation, msg *discord.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.lgr.ErrorMsg("command %q panicked: %v\n%s", cmd.Name, r, debug.Stack())
		}
	}()

	d.lgr.DebugMsg("running %q for %s (%d args)", inv.Name, msg.Author.Tag(), len(inv.Args))

	cc := &Context{
		Ctx:     ctx,
		Msg:     msg,
		Invoked: inv.Name,
		Args:    inv.Args,
		Rest:    inv.Rest,
		api:     d.api,
	}

	if err := cmd.Run(cc); err != nil {
		d.lgr.ErrorMsg("command %q failed: %s", cmd.Name, err)
	}

	if d.st != nil {
		if err := d.st.RecordCommand(ctx, cmd.Name, cmd.Plugin); err != nil {
			d.lgr.WarnMsg("recording %q invocation: %s", cmd.Name, err)
		}
	}
}

// Wait blocks until every running handler returns. Shutdown calls this
// before closing the store.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
