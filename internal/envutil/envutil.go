package envutil

import "strings"

// IsDevEnv reports whether the given environment name is a development one,
// where cookie and transport security requirements are relaxed.
func IsDevEnv(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "development" || env == "dev"
}
