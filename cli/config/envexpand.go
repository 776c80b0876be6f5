// Package config handles espterm.yaml loading.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${VAR} and ${VAR:-fallback}. Bare $VAR is left alone so
// values such as passwords may contain dollar signs.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv expands ${VAR} and ${VAR:-fallback} references from the
// process environment. An unset variable without a fallback expands to "".
func ExpandEnv(input string) string {
	return Expand(input, os.LookupEnv)
}

// Expand is ExpandEnv with a caller-supplied lookup. The fallback is used
// when the variable is unset or empty.
func Expand(input string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := lookup(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}
