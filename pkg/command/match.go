package command

import (
	"sort"
	"strings"
	"unicode"
)

// Invocation is a parsed trigger: the command name the user typed, the
// split arguments, and the raw remainder.
type Invocation struct {
	Name string
	Args []string
	Rest string
}

// Matcher decides whether message content invokes a command. It is
// immutable; config reloads swap in a fresh one.
type Matcher struct {
	prefixes []string // longest first, so overlapping prefixes resolve greedily
	mention  bool
}

// NewMatcher builds a matcher from the configured prefixes. With mention
// set, addressing the bot by mention works as a prefix too.
func NewMatcher(prefixes []string, mention bool) *Matcher {
	ps := make([]string, len(prefixes))
	copy(ps, prefixes)
	sort.Slice(ps, func(i, j int) bool { return len(ps[i]) > len(ps[j]) })

	return &Matcher{prefixes: ps, mention: mention}
}

// Match parses content against the prefixes and, when enabled, a leading
// bot mention. It reports false for anything that is not an invocation,
// including a bare prefix with nothing after it.
func (m *Matcher) Match(content, botID string) (Invocation, bool) {
	rest, ok := m.stripTrigger(content, botID)
	if !ok {
		return Invocation{}, false
	}

	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	if rest == "" {
		return Invocation{}, false
	}

	name := rest
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, rest = rest[:i], rest[i+1:]
	} else {
		rest = ""
	}
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)

	return Invocation{
		Name: strings.ToLower(name),
		Args: splitArgs(rest),
		Rest: rest,
	}, true
}

func (m *Matcher) stripTrigger(content, botID string) (string, bool) {
	for _, p := range m.prefixes {
		if strings.HasPrefix(content, p) {
			return content[len(p):], true
		}
	}

	if m.mention && botID != "" {
		for _, mention := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
			if strings.HasPrefix(content, mention) {
				return content[len(mention):], true
			}
		}
	}

	return "", false
}

// splitArgs splits on whitespace while keeping double-quoted runs
// together. Unbalanced quotes fall back to a plain whitespace split.
func splitArgs(s string) []string {
	var (
		args     []string
		cur      strings.Builder
		inQuote  bool
		hasQuote bool
	)

	flush := func() {
		if cur.Len() > 0 || hasQuote {
			args = append(args, cur.String())
			cur.Reset()
			hasQuote = false
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasQuote = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}

	if inQuote {
		return strings.Fields(s)
	}
	flush()

	return args
}
