// Package env reads process environment variables with fallbacks, for
// the few settings consulted before the config layer is loaded.
package env

import (
	"os"
	"strings"
)

// Get returns the named variable, or fallback when it is unset or
// blank.
func Get(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
