package config

import (
	"os"
	"strings"
)

// CompiledSecret holds the embedded DESKWATCH_SECRET provided at build time via
// -ldflags. When empty, the application will fall back to reading the
// DESKWATCH_SECRET environment variable for local development.
var CompiledSecret string

// ResolveSecret returns the passphrase protecting the configuration file.
func ResolveSecret() string {
	if compiled := strings.TrimSpace(CompiledSecret); compiled != "" {
		return compiled
	}
	return strings.TrimSpace(os.Getenv("DESKWATCH_SECRET"))
}
