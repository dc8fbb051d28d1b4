package main

import (
	"testing"
)

func TestRootCommands(t *testing.T) {
	t.Parallel()

	root := newRoot()

	want := []string{"run", "init", "check", "plugins", "admin", "version"}
	got := map[string]bool{}
	for _, c := range root.Commands {
		got[c.Name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("root command %q is missing", name)
		}
	}
}
