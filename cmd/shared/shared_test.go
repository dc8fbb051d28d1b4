package shared

import (
	"testing"

	"github.com/urfave/cli/v3"
)

// flagNames collects the primary name of every flag in the slice.
func flagNames(flags []cli.Flag) map[string]bool {
	names := make(map[string]bool)
	for _, flag := range flags {
		if ns := flag.Names(); len(ns) > 0 {
			names[ns[0]] = true
		}
	}
	return names
}

func TestGetCommonFlags(t *testing.T) {
	t.Parallel()

	flags := GetCommonFlags()

	if len(flags) == 0 {
		t.Fatal("GetCommonFlags() returned no flags")
	}

	names := flagNames(flags)
	if !names[VerboseFlag] {
		t.Errorf("expected flag %q not found", VerboseFlag)
	}
}

func TestGetDataFlags(t *testing.T) {
	t.Parallel()

	names := flagNames(GetDataFlags())
	if !names[DataDirFlag] {
		t.Errorf("expected flag %q not found", DataDirFlag)
	}
}

func TestGetAdminFlags(t *testing.T) {
	t.Parallel()

	names := flagNames(GetAdminFlags())
	for _, name := range []string{ConnectFlag, KeyFlag} {
		if !names[name] {
			t.Errorf("expected flag %q not found", name)
		}
	}
}
