package pipeio

import (
	"io"
	"os"

	"github.com/muesli/cancelreader"
)

// Stdio joins standard input and output into one ReadWriteCloser. Where
// the platform supports it, reads are cancelable, so Close interrupts a
// Read blocked on the terminal instead of leaving it to finish first.
type Stdio struct {
	stdin            io.Reader
	cancellableStdin cancelreader.CancelReader

	stdout io.Writer
}

// NewStdio builds a Stdio on the given streams, defaulting to os.Stdin
// and os.Stdout when nil.
func NewStdio(stdin io.Reader, stdout io.Writer) *Stdio {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	out := &Stdio{
		stdin:  stdin,
		stdout: stdout,
	}

	cr, err := cancelreader.NewReader(stdin)
	if err != nil {
		return out
	}

	out.cancellableStdin = cr
	return out
}

// Read reads from stdin, through the cancelable reader when available.
func (s *Stdio) Read(p []byte) (n int, err error) {
	if s.cancellableStdin != nil {
		return s.cancellableStdin.Read(p)
	}

	return s.stdin.Read(p)
}

// Write writes to stdout.
func (s *Stdio) Write(p []byte) (n int, err error) {
	return s.stdout.Write(p)
}

// Close cancels a pending stdin read, if cancelation is supported. The
// underlying streams stay open; they belong to the process.
func (s *Stdio) Close() error {
	if s.cancellableStdin != nil {
		s.cancellableStdin.Cancel()
	}
	return nil
}
