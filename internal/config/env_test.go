package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEnvOverridesStoredValues(t *testing.T) {
	env := map[string]string{
		"DESKWATCH_HOST":          " desk02 ",
		"DESKWATCH_SSH_PORT":      "2222",
		"DESKWATCH_PROBE_COMMAND": "count",
		"DESKWATCH_INTERVAL":      "9",
	}
	cfg := Config{Server: ServerConfig{Host: "desk01", Username: "alice", SSHPort: 22}}
	applyEnvWith(&cfg, func(key string) string { return env[key] })

	if cfg.Server.Host != "desk02" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.Server.Username != "alice" {
		t.Fatalf("expected stored username to survive, got %q", cfg.Server.Username)
	}
	if cfg.Server.SSHPort != 2222 {
		t.Fatalf("expected ssh port 2222, got %d", cfg.Server.SSHPort)
	}
	if cfg.Probe.Command != "count" || cfg.Probe.IntervalSeconds != 9 {
		t.Fatalf("unexpected probe overrides: %+v", cfg.Probe)
	}
}

func TestApplyEnvIgnoresInvalidPort(t *testing.T) {
	cfg := Config{Server: ServerConfig{SSHPort: 22}}
	applyEnvWith(&cfg, func(key string) string {
		if key == "DESKWATCH_SSH_PORT" {
			return "not-a-port"
		}
		return ""
	})
	if cfg.Server.SSHPort != 22 {
		t.Fatalf("expected port to stay 22, got %d", cfg.Server.SSHPort)
	}
}

func TestApplyEnvPasswordIsNotTrimmed(t *testing.T) {
	t.Setenv("DESKWATCH_PASSWORD", " spaced ")
	cfg := Config{}
	ApplyEnv(&cfg)
	if cfg.Server.Password != " spaced " {
		t.Fatalf("expected password verbatim, got %q", cfg.Server.Password)
	}
}

func TestLoadTemplateApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), TemplateFileName)
	body := `
server:
  host: desk01
  ssh_port: 2200
  username: operator
probe:
  interval_seconds: 1
  command: /usr/local/bin/sessions-count
  sessions_command: query session
desktop:
  client_path: /opt/freerdp/xfreerdp
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	tpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}

	cfg := Config{Server: ServerConfig{Password: "kept"}}
	tpl.Apply(&cfg)
	cfg.Normalize()

	if cfg.Server.Host != "desk01" || cfg.Server.SSHPort != 2200 || cfg.Server.Username != "operator" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.Password != "kept" {
		t.Fatalf("template must not touch the password")
	}
	if cfg.Probe.IntervalSeconds != DefaultIntervalSeconds {
		t.Fatalf("expected interval below minimum to be raised to %d, got %d", DefaultIntervalSeconds, cfg.Probe.IntervalSeconds)
	}
	if cfg.Probe.Command != "/usr/local/bin/sessions-count" || cfg.Probe.SessionsCommand != "query session" {
		t.Fatalf("unexpected probe config: %+v", cfg.Probe)
	}
	if cfg.Desktop.ClientPath != "/opt/freerdp/xfreerdp" {
		t.Fatalf("unexpected desktop client path %q", cfg.Desktop.ClientPath)
	}
}

func TestLoadTemplateMissingFile(t *testing.T) {
	_, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
