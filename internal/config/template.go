package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TemplateFileName is looked up next to the executable on first run.
const TemplateFileName = "deskwatch.template.yaml"

// Template carries the non-secret defaults an administrator ships alongside
// the binary. Passwords are never read from templates.
type Template struct {
	Server struct {
		Host           string `yaml:"host"`
		SSHPort        int    `yaml:"ssh_port"`
		RDPPort        int    `yaml:"rdp_port"`
		Username       string `yaml:"username"`
		KnownHostsFile string `yaml:"known_hosts_file"`
	} `yaml:"server"`
	Probe struct {
		IntervalSeconds int    `yaml:"interval_seconds"`
		Command         string `yaml:"command"`
		SessionsCommand string `yaml:"sessions_command"`
	} `yaml:"probe"`
	Desktop struct {
		ClientPath string `yaml:"client_path"`
	} `yaml:"desktop"`
}

// LoadTemplate reads a YAML template from path.
func LoadTemplate(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tpl Template
	if err := yaml.NewDecoder(f).Decode(&tpl); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", path, err)
	}
	return &tpl, nil
}

// InstalledTemplatePath returns the template shipped next to the executable.
func InstalledTemplatePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), TemplateFileName), nil
}

// SeedFromInstalledTemplate applies the installed template to cfg when one
// exists. It reports whether a template was applied.
func SeedFromInstalledTemplate(cfg *Config) (bool, error) {
	path, err := InstalledTemplatePath()
	if err != nil {
		return false, err
	}
	tpl, err := LoadTemplate(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	tpl.Apply(cfg)
	return true, nil
}

// Apply copies every populated template field onto cfg.
func (t *Template) Apply(cfg *Config) {
	if t == nil || cfg == nil {
		return
	}
	cfg.Server.Host = firstNonEmpty(t.Server.Host, cfg.Server.Host)
	cfg.Server.Username = firstNonEmpty(t.Server.Username, cfg.Server.Username)
	cfg.Server.KnownHostsFile = firstNonEmpty(t.Server.KnownHostsFile, cfg.Server.KnownHostsFile)
	if t.Server.SSHPort > 0 {
		cfg.Server.SSHPort = t.Server.SSHPort
	}
	if t.Server.RDPPort > 0 {
		cfg.Server.RDPPort = t.Server.RDPPort
	}
	if t.Probe.IntervalSeconds != 0 {
		cfg.Probe.IntervalSeconds = t.Probe.IntervalSeconds
	}
	cfg.Probe.Command = firstNonEmpty(t.Probe.Command, cfg.Probe.Command)
	cfg.Probe.SessionsCommand = firstNonEmpty(t.Probe.SessionsCommand, cfg.Probe.SessionsCommand)
	cfg.Desktop.ClientPath = firstNonEmpty(t.Desktop.ClientPath, cfg.Desktop.ClientPath)
}
