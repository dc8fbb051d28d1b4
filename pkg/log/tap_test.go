package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestTap_ReceivesLines(t *testing.T) {
	t.Parallel()

	lgr := New(Options{Console: &bytes.Buffer{}})
	tap := lgr.Tap(8)
	defer tap.Close()

	lgr.InfoMsg("hello %s", "tap")

	select {
	case line := <-tap.Lines():
		if !strings.Contains(line, "[INFO] harness: hello tap") {
			t.Errorf("tapped line = %q, want it to contain %q", line, "[INFO] harness: hello tap")
		}
	default:
		t.Fatal("no line arrived on the tap")
	}
}

// Taps mirror the file sink, so debug lines arrive even when the console
// suppresses them.
func TestTap_SeesDebugWithoutVerbose(t *testing.T) {
	t.Parallel()

	console := &bytes.Buffer{}
	lgr := New(Options{Console: console, Verbose: false})
	tap := lgr.Tap(8)
	defer tap.Close()

	lgr.DebugMsg("quiet detail")

	select {
	case line := <-tap.Lines():
		if !strings.Contains(line, "[DEBUG] harness: quiet detail") {
			t.Errorf("tapped line = %q, want debug content", line)
		}
	default:
		t.Fatal("debug line did not reach the tap")
	}

	if console.Len() != 0 {
		t.Errorf("console got %q, want nothing", console.String())
	}
}

func TestTap_DropsWhenFull(t *testing.T) {
	t.Parallel()

	lgr := New(Options{Console: &bytes.Buffer{}})
	tap := lgr.Tap(1)
	defer tap.Close()

	lgr.InfoMsg("first")
	lgr.InfoMsg("second")

	line := <-tap.Lines()
	if !strings.Contains(line, "first") {
		t.Errorf("kept line = %q, want the first message", line)
	}

	select {
	case line := <-tap.Lines():
		t.Errorf("tap kept %q beyond its capacity", line)
	default:
	}
}

func TestTap_CloseEndsChannel(t *testing.T) {
	t.Parallel()

	lgr := New(Options{Console: &bytes.Buffer{}})
	tap := lgr.Tap(1)

	tap.Close()
	tap.Close() // second close is a no-op

	if _, ok := <-tap.Lines(); ok {
		t.Error("channel still open after Close")
	}

	// Logging after Close must not panic.
	lgr.InfoMsg("after close")
}

func TestTap_MultipleTaps(t *testing.T) {
	t.Parallel()

	lgr := New(Options{Console: &bytes.Buffer{}})
	tap1 := lgr.Tap(4)
	defer tap1.Close()
	tap2 := lgr.Tap(4)
	defer tap2.Close()

	lgr.WarnMsg("fan out")

	for i, tap := range []*Tap{tap1, tap2} {
		select {
		case line := <-tap.Lines():
			if !strings.Contains(line, "fan out") {
				t.Errorf("tap %d line = %q, want %q inside", i+1, line, "fan out")
			}
		default:
			t.Errorf("tap %d got no line", i+1)
		}
	}
}
