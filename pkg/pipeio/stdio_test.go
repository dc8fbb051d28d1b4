package pipeio

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNewStdio_Defaults(t *testing.T) {
	t.Parallel()

	stdio := NewStdio(nil, nil)

	if stdio == nil {
		t.Fatal("NewStdio() returned nil")
	}
	if stdio.stdin == nil {
		t.Error("NewStdio() left stdin nil")
	}
	if stdio.stdout == nil {
		t.Error("NewStdio() left stdout nil")
	}
}

func TestStdio_ReadWrite(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	stdio := NewStdio(strings.NewReader("typed input"), &out)

	buf := make([]byte, 64)
	n, err := stdio.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("Read() error = %v", err)
	}
	if got, want := string(buf[:n]), "typed input"; got != want {
		t.Errorf("Read() = %q, want %q", got, want)
	}

	if _, err := stdio.Write([]byte("printed output")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got, want := out.String(), "printed output"; got != want {
		t.Errorf("stdout got %q, want %q", got, want)
	}
}

func TestStdio_CloseIsSafe(t *testing.T) {
	t.Parallel()

	stdio := NewStdio(strings.NewReader(""), io.Discard)

	if err := stdio.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := stdio.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
