package command

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prefixes []string
		mention  bool
		content  string
		botID    string
		want     Invocation
		wantOK   bool
	}{
		{
			name:     "simple prefix",
			prefixes: []string{"t!"},
			content:  "t!ping",
			want:     Invocation{Name: "ping", Args: nil, Rest: ""},
			wantOK:   true,
		},
		{
			name:     "prefix with args",
			prefixes: []string{"t!"},
			content:  "t!roll 2d6 3",
			want:     Invocation{Name: "roll", Args: []string{"2d6", "3"}, Rest: "2d6 3"},
			wantOK:   true,
		},
		{
			name:     "longest prefix wins",
			prefixes: []string{"!", "!!"},
			content:  "!!status now",
			want:     Invocation{Name: "status", Args: []string{"now"}, Rest: "now"},
			wantOK:   true,
		},
		{
			name:     "command name lowercased",
			prefixes: []string{"t!"},
			content:  "t!PING",
			want:     Invocation{Name: "ping", Args: nil, Rest: ""},
			wantOK:   true,
		},
		{
			name:     "mention trigger",
			prefixes: []string{"t!"},
			mention:  true,
			content:  "<@123> roll 2d6",
			botID:    "123",
			want:     Invocation{Name: "roll", Args: []string{"2d6"}, Rest: "2d6"},
			wantOK:   true,
		},
		{
			name:     "nickname mention trigger",
			prefixes: []string{"t!"},
			mention:  true,
			content:  "<@!123> ping",
			botID:    "123",
			want:     Invocation{Name: "ping", Args: nil, Rest: ""},
			wantOK:   true,
		},
		{
			name:     "mention disabled",
			prefixes: []string{"t!"},
			content:  "<@123> ping",
			botID:    "123",
			wantOK:   false,
		},
		{
			name:     "someone else mentioned",
			prefixes: []string{"t!"},
			mention:  true,
			content:  "<@999> ping",
			botID:    "123",
			wantOK:   false,
		},
		{
			name:     "plain chat",
			prefixes: []string{"t!"},
			content:  "good morning everyone",
			wantOK:   false,
		},
		{
			name:     "bare prefix is silent",
			prefixes: []string{"t!"},
			content:  "t!",
			wantOK:   false,
		},
		{
			name:     "prefix with only spaces is silent",
			prefixes: []string{"t!"},
			content:  "t!   ",
			wantOK:   false,
		},
		{
			name:     "quoted arguments stay together",
			prefixes: []string{"t!"},
			content:  `t!say "hello there" friend`,
			want:     Invocation{Name: "say", Args: []string{"hello there", "friend"}, Rest: `"hello there" friend`},
			wantOK:   true,
		},
		{
			name:     "unbalanced quote falls back to fields",
			prefixes: []string{"t!"},
			content:  `t!say "a b`,
			want:     Invocation{Name: "say", Args: []string{`"a`, "b"}, Rest: `"a b`},
			wantOK:   true,
		},
		{
			name:    "mention only trigger with no prefixes",
			mention: true,
			content: "<@123> uptime",
			botID:   "123",
			want:    Invocation{Name: "uptime", Args: nil, Rest: ""},
			wantOK:  true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := NewMatcher(tc.prefixes, tc.mention)
			got, ok := m.Match(tc.content, tc.botID)

			if ok != tc.wantOK {
				t.Fatalf("Match(%q) ok = %t; want %t", tc.content, ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if got.Name != tc.want.Name {
				t.Errorf("name: got %q; want %q", got.Name, tc.want.Name)
			}
			if !reflect.DeepEqual(got.Args, tc.want.Args) {
				t.Errorf("args: got %q; want %q", got.Args, tc.want.Args)
			}
			if got.Rest != tc.want.Rest {
				t.Errorf("rest: got %q; want %q", got.Rest, tc.want.Rest)
			}
		})
	}
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "plain fields", in: "a b c", want: []string{"a", "b", "c"}},
		{name: "extra whitespace", in: "  a \t b  ", want: []string{"a", "b"}},
		{name: "quoted run", in: `a "b c" d`, want: []string{"a", "b c", "d"}},
		{name: "empty quotes kept", in: `"" x`, want: []string{"", "x"}},
		{name: "quotes join fragments", in: `a"b c"d`, want: []string{"ab cd"}},
		{name: "unbalanced falls back", in: `"a b`, want: []string{`"a`, "b"}},
		{name: "quote only falls back", in: `"`, want: []string{`"`}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := splitArgs(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("splitArgs(%q) = %q; want %q", tc.in, got, tc.want)
			}
		})
	}
}
