package admin

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"harnessbot/harness/pkg/control/msg"
	"harnessbot/harness/pkg/format"
)

// renderStatus prints one status snapshot: identity first, then the
// gateway, then plugins and commands.
func renderStatus(w io.Writer, st msg.StatusReply) {
	fmt.Fprintf(w, "harness %s, up %s\n", st.Version, format.Duration(st.Uptime))

	if st.Gateway.Latency > 0 {
		fmt.Fprintf(w, "gateway: %s, latency %s\n", st.Gateway.State, st.Gateway.Latency.Truncate(time.Millisecond))
	} else {
		fmt.Fprintf(w, "gateway: %s\n", st.Gateway.State)
	}

	if len(st.Plugins) == 0 {
		fmt.Fprintln(w, "plugins: none")
	} else {
		fmt.Fprintln(w, "plugins:")
		for _, p := range st.Plugins {
			switch {
			case p.Loaded:
				fmt.Fprintf(w, "  %s %s loaded\n", p.ID, p.Version)
			case p.Err != "":
				fmt.Fprintf(w, "  %s %s failed: %s\n", p.ID, p.Version, p.Err)
			default:
				fmt.Fprintf(w, "  %s %s not loaded\n", p.ID, p.Version)
			}
		}
	}

	if len(st.Commands) > 0 {
		cmds := append([]string(nil), st.Commands...)
		sort.Strings(cmds)
		fmt.Fprintf(w, "commands: %s\n", strings.Join(cmds, ", "))
	}
}
