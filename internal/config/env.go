package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv layers DESKWATCH_* environment overrides over the stored values.
func ApplyEnv(cfg *Config) {
	applyEnvWith(cfg, os.Getenv)
}

func applyEnvWith(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	cfg.Server.Host = firstNonEmpty(getenv("DESKWATCH_HOST"), cfg.Server.Host)
	cfg.Server.Username = firstNonEmpty(getenv("DESKWATCH_USER"), cfg.Server.Username)
	if pass := getenv("DESKWATCH_PASSWORD"); pass != "" {
		cfg.Server.Password = pass
	}
	cfg.Server.KnownHostsFile = firstNonEmpty(getenv("DESKWATCH_KNOWN_HOSTS"), cfg.Server.KnownHostsFile)
	if port := parseInt(getenv("DESKWATCH_SSH_PORT")); port > 0 {
		cfg.Server.SSHPort = port
	}
	if port := parseInt(getenv("DESKWATCH_RDP_PORT")); port > 0 {
		cfg.Server.RDPPort = port
	}
	cfg.Probe.Command = firstNonEmpty(getenv("DESKWATCH_PROBE_COMMAND"), cfg.Probe.Command)
	if interval := parseInt(getenv("DESKWATCH_INTERVAL")); interval != 0 {
		cfg.Probe.IntervalSeconds = interval
	}
	cfg.Local.Alias = firstNonEmpty(getenv("DESKWATCH_ALIAS"), cfg.Local.Alias)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseInt(value string) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	out, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return out
}
