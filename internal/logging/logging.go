package logging

import (
	"log"
	"strings"
	"sync/atomic"
)

var debugEnabled atomic.Bool

// EnableDebug turns on verbose debug logging for the application lifecycle.
func EnableDebug() {
	debugEnabled.Store(true)
	log.Printf("[DEBUG] debug logging enabled")
}

// DebugEnabled reports whether debug logging is active.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf emits a formatted debug log message when debugging is enabled.
func Debugf(format string, args ...interface{}) {
	if !DebugEnabled() {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// LogRemoteCommand emits a remote command line when debugging is enabled.
// Quoted payloads and password switches are masked before logging.
func LogRemoteCommand(host, command string) {
	if !DebugEnabled() {
		return
	}
	log.Printf("[DEBUG] remote exec on %s: %s", host, SanitizeCommand(command))
}

// SanitizeCommand masks double-quoted segments and /p: or --password values
// so relayed messages and credentials never reach the log.
func SanitizeCommand(command string) string {
	fields := splitPreservingQuotes(command)
	for idx, field := range fields {
		lower := strings.ToLower(field)
		switch {
		case strings.HasPrefix(field, "\"") && strings.HasSuffix(field, "\"") && len(field) >= 2:
			fields[idx] = "\"" + MaskIdentifier(field[1:len(field)-1]) + "\""
		case strings.HasPrefix(lower, "/p:"):
			fields[idx] = field[:3] + MaskIdentifier(field[3:])
		case strings.HasPrefix(lower, "/pass:"):
			fields[idx] = field[:6] + MaskIdentifier(field[6:])
		case strings.HasPrefix(lower, "--password="):
			fields[idx] = field[:11] + MaskIdentifier(field[11:])
		}
	}
	return strings.Join(fields, " ")
}

func splitPreservingQuotes(command string) []string {
	var (
		out     []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}
	for _, r := range command {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quoted:
			current.WriteRune(r)
			escaped = true
		case r == '"':
			current.WriteRune(r)
			quoted = !quoted
		case r == ' ' && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return out
}

// MaskIdentifier obscures sensitive identifiers leaving only the last four characters visible.
func MaskIdentifier(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(trimmed)-4) + trimmed[len(trimmed)-4:]
}
