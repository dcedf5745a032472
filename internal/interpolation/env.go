// Package interpolation expands ${VAR} and ${VAR:default} references from
// the process environment, for config fields opted in via struct tag.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// The colon group is captured separately so ${VAR:} (empty default) can be
// told apart from ${VAR} (no default).
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// ExpandEnvVars replaces every ${VAR} or ${VAR:default} reference in input
// with the environment value. A reference without a default whose variable
// is unset is an error; all such misses are joined into one error.
func ExpandEnvVars(input string) (string, error) {
	if input == "" {
		return "", nil
	}

	var missing []error
	expanded := envRefPattern.ReplaceAllStringFunc(input, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name, hasDefault, fallback := groups[1], groups[2] == ":", groups[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		missing = append(missing, fmt.Errorf("environment variable not defined: %s", name))
		return ref
	})

	return expanded, errors.Join(missing...)
}
