package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("DESKWATCH_CONFIG_PATH", filepath.Join(t.TempDir(), "config.enc"))

	cfg := &Config{
		Server: ServerConfig{Host: "desk01", SSHPort: 2222, Username: "alice", Password: "s3cret"},
		Probe:  ProbeConfig{IntervalSeconds: 7, Command: "count-sessions"},
		Local:  LocalConfig{Alias: "Alice", InstanceID: "A1"},
	}
	require.NoError(t, Save(cfg, "passphrase"))

	path, err := Path()
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")

	loaded, err := Load("passphrase")
	require.NoError(t, err)
	assert.Equal(t, *cfg, *loaded)

	_, err = Load("wrong")
	assert.Error(t, err)
}

func TestLoadMissingFileYieldsEmptyConfig(t *testing.T) {
	t.Setenv("DESKWATCH_CONFIG_PATH", filepath.Join(t.TempDir(), "config.enc"))

	cfg, err := Load("passphrase")
	require.NoError(t, err)
	assert.Equal(t, Config{}, *cfg)
	assert.False(t, Exists())
}

func TestLoadRequiresPassphrase(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
	assert.Error(t, Save(&Config{}, ""))
}

func TestNormalizeClampsIntervalAndFillsDefaults(t *testing.T) {
	cfg := Config{Probe: ProbeConfig{IntervalSeconds: 1}}
	changed := cfg.Normalize()

	assert.True(t, changed, "generated instance id must be persisted")
	assert.Equal(t, DefaultIntervalSeconds, cfg.Probe.IntervalSeconds)
	assert.Equal(t, DefaultSSHPort, cfg.Server.SSHPort)
	assert.Equal(t, DefaultRDPPort, cfg.Server.RDPPort)
	assert.Equal(t, DefaultSessionsCommand, cfg.Probe.SessionsCommand)
	assert.NotEmpty(t, cfg.Local.InstanceID)
	assert.NotEmpty(t, cfg.Local.Alias)
}

func TestNormalizeKeepsValidValues(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{SSHPort: 2022, RDPPort: 3390},
		Probe:  ProbeConfig{IntervalSeconds: 2},
		Local:  LocalConfig{Alias: "Bob", InstanceID: "B1"},
	}
	changed := cfg.Normalize()

	assert.False(t, changed)
	assert.Equal(t, 2, cfg.Probe.IntervalSeconds)
	assert.Equal(t, 2022, cfg.Server.SSHPort)
	assert.Equal(t, 3390, cfg.Server.RDPPort)
	assert.Equal(t, "B1", cfg.Local.InstanceID)
}

func TestHasCredentials(t *testing.T) {
	cfg := Config{Server: ServerConfig{Host: "desk01", Username: "alice"}}
	assert.False(t, cfg.HasCredentials())
	cfg.Server.Password = "   "
	assert.False(t, cfg.HasCredentials())
	cfg.Server.Password = "pw"
	assert.True(t, cfg.HasCredentials())
	cfg.Server.Host = "  "
	assert.False(t, cfg.HasCredentials())
}

func TestConfigCopyIsIndependentSnapshot(t *testing.T) {
	cfg := Config{Server: ServerConfig{Host: "desk01"}}
	snapshot := cfg
	cfg.Server.Host = "desk02"
	assert.Equal(t, "desk01", snapshot.Server.Host)
}
