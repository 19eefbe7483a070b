package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"

	"github.com/example/deskwatch/internal/config"
)

const controlTokenPrefix = "deskwatch-control|"

// ResolveControlToken returns the token guarding the local control channel,
// deriving a stable value from the configuration secret when no explicit
// token is provided.
func ResolveControlToken(secret string) string {
	if compiled := strings.TrimSpace(config.CompiledSecret); compiled != "" {
		return DeriveControlToken(compiled)
	}

	token := strings.TrimSpace(os.Getenv("DESKWATCH_CONTROL_TOKEN"))
	if token != "" {
		return token
	}

	return DeriveControlToken(secret)
}

// DeriveControlToken hashes the provided secret into a deterministic token.
func DeriveControlToken(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(controlTokenPrefix + secret))
	return hex.EncodeToString(sum[:])
}

// TokensEqual compares a presented token against the expected one in
// constant time. An empty token never matches.
func TokensEqual(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
