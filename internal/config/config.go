package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

const (
	configDirName  = "deskwatch"
	configFileName = "config.enc"
	saltSize       = 16
	nonceSize      = 12
)

const (
	DefaultSSHPort         = 22
	DefaultRDPPort         = 3389
	DefaultIntervalSeconds = 5
	MinIntervalSeconds     = 2
	DefaultSessionsCommand = "query session"
)

// ServerConfig describes the shared remote desktop host.
type ServerConfig struct {
	Host           string `json:"host"`
	SSHPort        int    `json:"sshPort"`
	RDPPort        int    `json:"rdpPort"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	KnownHostsFile string `json:"knownHostsFile,omitempty"`
}

// ProbeConfig controls the periodic occupancy probe.
type ProbeConfig struct {
	IntervalSeconds int    `json:"intervalSeconds"`
	Command         string `json:"command"`
	SessionsCommand string `json:"sessionsCommand,omitempty"`
}

// LocalConfig identifies this installation towards other clients.
type LocalConfig struct {
	Alias      string `json:"alias"`
	InstanceID string `json:"instanceId"`
}

// DesktopConfig selects the remote desktop client binary.
type DesktopConfig struct {
	ClientPath string `json:"clientPath,omitempty"`
}

// Config represents the persisted configuration file. It holds only value
// fields so a plain assignment yields an independent snapshot.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Probe   ProbeConfig   `json:"probe"`
	Local   LocalConfig   `json:"local"`
	Desktop DesktopConfig `json:"desktop"`
}

// HasCredentials reports whether host, user and password are all present.
func (c Config) HasCredentials() bool {
	return strings.TrimSpace(c.Server.Host) != "" &&
		strings.TrimSpace(c.Server.Username) != "" &&
		strings.TrimSpace(c.Server.Password) != ""
}

// Normalize applies defaults in place and reports whether anything that
// should be persisted changed (currently only a generated instance id).
func (c *Config) Normalize() bool {
	changed := false
	if c.Probe.IntervalSeconds < MinIntervalSeconds {
		c.Probe.IntervalSeconds = DefaultIntervalSeconds
	}
	if c.Server.SSHPort <= 0 {
		c.Server.SSHPort = DefaultSSHPort
	}
	if c.Server.RDPPort <= 0 {
		c.Server.RDPPort = DefaultRDPPort
	}
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Server.Username = strings.TrimSpace(c.Server.Username)
	c.Probe.Command = strings.TrimSpace(c.Probe.Command)
	if strings.TrimSpace(c.Probe.SessionsCommand) == "" {
		c.Probe.SessionsCommand = DefaultSessionsCommand
	}
	if strings.TrimSpace(c.Local.InstanceID) == "" {
		c.Local.InstanceID = uuid.NewString()
		changed = true
	}
	if strings.TrimSpace(c.Local.Alias) == "" {
		c.Local.Alias = defaultAlias()
	}
	return changed
}

func defaultAlias() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}

// Path returns the resolved configuration file path.
func Path() (string, error) {
	if custom := os.Getenv("DESKWATCH_CONFIG_PATH"); custom != "" {
		if err := os.MkdirAll(filepath.Dir(custom), 0o700); err != nil {
			return "", fmt.Errorf("ensure custom config directory: %w", err)
		}
		return custom, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine user config dir: %w", err)
	}

	dir := filepath.Join(base, configDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure config directory: %w", err)
	}

	return filepath.Join(dir, configFileName), nil
}

// Exists reports whether a configuration file has been written before.
func Exists() bool {
	path, err := Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load retrieves the encrypted configuration using the provided passphrase.
// A missing file yields an empty configuration.
func Load(passphrase string) (*Config, error) {
	if passphrase == "" {
		return nil, errors.New("missing passphrase for configuration decryption")
	}

	path, err := Path()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data, err := decrypt(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Save persists the configuration encrypted with the provided passphrase.
func Save(cfg *Config, passphrase string) error {
	if passphrase == "" {
		return errors.New("missing passphrase for configuration encryption")
	}
	if cfg == nil {
		return errors.New("nil configuration")
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	data, err := encrypt(raw, passphrase)
	if err != nil {
		return fmt.Errorf("encrypt config: %w", err)
	}

	path, err := Path()
	if err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("write encrypted config: %w", err)
	}

	return os.Rename(tempFile, path)
}

func encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func decrypt(ciphertext []byte, passphrase string) ([]byte, error) {
	if len(ciphertext) < saltSize+nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	salt := ciphertext[:saltSize]
	nonce := ciphertext[saltSize : saltSize+nonceSize]
	payload := ciphertext[saltSize+nonceSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce, payload, nil)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	const (
		keyLength = 32
		n         = 1 << 15
		r         = 8
		p         = 1
	)

	key, err := scrypt.Key([]byte(passphrase), salt, n, r, p, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
