package log

// A Tap receives every log line as it is written, formatted like the file
// sink and regardless of the console's verbose gate. The control plane's
// tail stream reads from one. A tap that falls behind loses lines; logging
// never blocks on a slow consumer.
type Tap struct {
	ch   chan string
	sink *sink
}

// Tap attaches a line tap with the given channel capacity to the logger's
// sink. Detach it with Close when done.
func (l *Logger) Tap(buffer int) *Tap {
	t := &Tap{
		ch:   make(chan string, buffer),
		sink: l.sink,
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.taps == nil {
		l.sink.taps = make(map[*Tap]struct{})
	}
	l.sink.taps[t] = struct{}{}

	return t
}

// Lines returns the channel lines arrive on. Close closes it.
func (t *Tap) Lines() <-chan string {
	return t.ch
}

// Close detaches the tap from the sink and closes its channel. Closing an
// already closed tap does nothing.
func (t *Tap) Close() {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()

	if _, ok := t.sink.taps[t]; !ok {
		return
	}
	delete(t.sink.taps, t)
	close(t.ch)
}
