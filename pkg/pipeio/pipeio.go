// Package pipeio shuttles bytes between the admin terminal and a control
// stream. It exists so the tail and console subcommands can treat "my
// terminal" and "that stream" as two interchangeable pipe ends.
package pipeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/cancelreader"
)

// Pipe copies in both directions between rwc1 and rwc2 until one side
// finishes or ctx ends, then closes both and returns. Copy failures go to
// logfunc; the errors produced by tearing the pipe down do not.
func Pipe(ctx context.Context, rwc1, rwc2 io.ReadWriteCloser, logfunc func(error)) {
	var wg sync.WaitGroup
	var once sync.Once

	closeBoth := func() {
		rwc1.Close()
		rwc2.Close()
	}

	copyHalf := func(dst, src io.ReadWriteCloser, label string) {
		defer wg.Done()

		if _, err := io.Copy(dst, src); err != nil && !isShutdown(err) {
			logfunc(fmt.Errorf("copying %s: %w", label, err))
		}

		// One direction ending ends the session: close both so the
		// other copy unblocks.
		once.Do(closeBoth)
	}

	wg.Add(2)
	go copyHalf(rwc1, rwc2, "remote to local")
	go copyHalf(rwc2, rwc1, "local to remote")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			once.Do(closeBoth)
		case <-done:
		}
	}()

	wg.Wait()
}

// isShutdown reports whether err is the expected noise of closing a pipe
// end, as opposed to a failure worth logging.
func isShutdown(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, cancelreader.ErrCanceled) ||
		strings.Contains(err.Error(), "use of closed")
}
