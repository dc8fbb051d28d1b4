// Package version tracks the harness release and plugin API versions and
// implements the version constraints plugin manifests declare against them.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the harness release version. Overwritten via ldflags during
// release builds; "unknown" marks a development build.
var Version = "unknown"

// APIVersion is the plugin API version. Bumped on breaking changes to the
// plugin-facing surface (manifest schema, script bridge, plugin.API).
const APIVersion = "1.0.0"

// Runtime returns the canonical harness version, or "" for development
// builds that carry no version information.
func Runtime() string {
	v := Canonical(Version)
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// IsValid reports whether v is acceptable semver after canonicalization.
func IsValid(v string) bool {
	return semver.IsValid(Canonical(v))
}

// Canonical normalizes a version string to canonical semver form with a
// leading "v". Returns the input unchanged if it cannot be canonicalized.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if c := semver.Canonical(v); c != "" {
		return c
	}
	return v
}

// condition is a single operator/version pair within a constraint.
type condition struct {
	op      string
	version string // canonical
}

// Constraint is a conjunction of version conditions, e.g. ">=0.3 <2" or
// "^1.2". All conditions must hold for a version to match.
type Constraint struct {
	raw   string
	conds []condition
}

var operators = []string{">=", "<=", "==", "!=", ">", "<", "=", "^", "~"}

// ParseConstraint parses a constraint expression. Conditions are separated
// by spaces or commas and consist of an optional operator (=, ==, !=, >,
// >=, <, <=, ^, ~; default =) followed by a version. Versions may omit the
// leading "v" and trailing components (">=1.2" means ">=v1.2.0").
func ParseConstraint(s string) (Constraint, error) {
	out := Constraint{raw: s}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 0 {
		return out, fmt.Errorf("empty constraint")
	}

	for _, f := range fields {
		op := "="
		for _, candidate := range operators {
			if strings.HasPrefix(f, candidate) {
				op = candidate
				f = f[len(candidate):]
				break
			}
		}
		if op == "==" {
			op = "="
		}

		v := Canonical(f)
		if !semver.IsValid(v) {
			return out, fmt.Errorf("invalid version %q in constraint %q", f, s)
		}

		out.conds = append(out.conds, condition{op: op, version: v})
	}

	return out, nil
}

// String returns the constraint as written.
func (c Constraint) String() string {
	return c.raw
}

// Match reports whether version v satisfies every condition of the
// constraint. v may omit the leading "v".
func (c Constraint) Match(v string) bool {
	v = Canonical(v)
	if !semver.IsValid(v) {
		return false
	}

	for _, cond := range c.conds {
		if !cond.match(v) {
			return false
		}
	}
	return true
}

func (cond condition) match(v string) bool {
	cmp := semver.Compare(v, cond.version)

	switch cond.op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "^":
		return cmp >= 0 && semver.Compare(v, caretUpperBound(cond.version)) < 0
	case "~":
		return cmp >= 0 && semver.Compare(v, tildeUpperBound(cond.version)) < 0
	}

	return false
}

// caretUpperBound returns the exclusive upper bound for ^v: the next major
// version, or the next minor version while the major version is still 0.
func caretUpperBound(v string) string {
	major, minor := versionParts(v)
	if major == 0 {
		return fmt.Sprintf("v0.%d.0", minor+1)
	}
	return fmt.Sprintf("v%d.0.0", major+1)
}

// tildeUpperBound returns the exclusive upper bound for ~v: the next minor
// version.
func tildeUpperBound(v string) string {
	major, minor := versionParts(v)
	return fmt.Sprintf("v%d.%d.0", major, minor+1)
}

func versionParts(v string) (major, minor int) {
	mm := strings.TrimPrefix(semver.MajorMinor(v), "v")
	fmt.Sscanf(mm, "%d.%d", &major, &minor)
	return major, minor
}
