package config

import (
	"fmt"
	"regexp"
)

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%d not in [1, 65535]", port)
	}

	return nil
}

var pluginIDRe = regexp.MustCompile(`^[a-z0-9_]+$`)

var logLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate runs the semantic checks the schema cannot express. It reports
// every problem it finds rather than stopping at the first.
func (c *Config) Validate() []error {
	var errors []error

	if c.Token == "" {
		errors = append(errors, fmt.Errorf("'token' must be set in the config or via HARNESS_TOKEN"))
	}

	if len(c.Prefixes) == 0 && !c.PrefixOrMention {
		errors = append(errors, fmt.Errorf("no way to trigger commands: set 'prefixes' or enable 'prefix_or_mention'"))
	}

	for _, dup := range duplicates(c.Prefixes) {
		errors = append(errors, fmt.Errorf("'prefixes' lists %q more than once", dup))
	}

	for _, dup := range duplicates(c.EnabledPlugins) {
		errors = append(errors, fmt.Errorf("'enabled_plugins' lists %q more than once", dup))
	}

	for _, id := range c.EnabledPlugins {
		if !pluginIDRe.MatchString(id) {
			errors = append(errors, fmt.Errorf("'enabled_plugins' entry %q is not a normalized id (lowercase letters, digits and '_')", id))
		}
	}

	if !logLevels[c.Log.Level] {
		errors = append(errors, fmt.Errorf("'log.level' must be one of debug|info|warn|error, got %q", c.Log.Level))
	}

	errors = append(errors, c.Control.Validate()...)

	return errors
}

// Validate checks the control section. A disabled section is ignored.
func (c *Control) Validate() []error {
	var errors []error

	if !c.Enabled {
		return errors
	}

	spec, err := ParseListenSpec(c.Listen)
	if err != nil {
		errors = append(errors, fmt.Errorf("'control.listen': %s", err))
		return errors
	}

	if c.Key == "" && !spec.Loopback() {
		errors = append(errors, fmt.Errorf("'control.key' is required when 'control.listen' binds %s (not loopback)", spec.Addr()))
	}

	return errors
}

func duplicates(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string

	for _, v := range values {
		if seen[v] {
			out = append(out, v)
		}
		seen[v] = true
	}

	return out
}
