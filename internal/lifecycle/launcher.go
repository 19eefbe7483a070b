package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/example/deskwatch/internal/config"
	"github.com/example/deskwatch/internal/logging"
)

// ErrNoClient is returned when no remote-desktop client can be found.
var ErrNoClient = errors.New("no remote desktop client found")

// Target is what the remote-desktop client needs to connect.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
}

// TargetFromConfig snapshots the desktop connection settings.
func TargetFromConfig(cfg config.Config) Target {
	return Target{
		Host:     strings.TrimSpace(cfg.Server.Host),
		Port:     cfg.Server.RDPPort,
		User:     strings.TrimSpace(cfg.Server.Username),
		Password: cfg.Server.Password,
	}
}

// Complete reports whether host, user and password are all present.
func (t Target) Complete() bool {
	return strings.TrimSpace(t.Host) != "" && strings.TrimSpace(t.User) != "" && strings.TrimSpace(t.Password) != ""
}

func (t Target) address() string {
	port := t.Port
	if port <= 0 {
		port = config.DefaultRDPPort
	}
	return t.Host + ":" + strconv.Itoa(port)
}

type clientKind int

const (
	clientFreeRDP clientKind = iota
	clientMSTSC
)

// DesktopLauncher starts FreeRDP or, on Windows, mstsc.
type DesktopLauncher struct {
	ClientPath string

	goos     string
	exeDir   string
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	runAux   func(ctx context.Context, name string, args ...string) error
}

// NewDesktopLauncher builds a launcher. clientPath may be empty to discover
// a client automatically.
func NewDesktopLauncher(clientPath string) *DesktopLauncher {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	return &DesktopLauncher{
		ClientPath: strings.TrimSpace(clientPath),
		goos:       runtime.GOOS,
		exeDir:     exeDir,
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		runAux:     runAux,
	}
}

// Launch satisfies LaunchFunc.
func (l *DesktopLauncher) Launch(ctx context.Context, t Target) (Process, error) {
	path, kind, err := l.resolveClient()
	if err != nil {
		return nil, err
	}
	logging.Debugf("launching %s for %s@%s", path, t.User, t.address())

	if kind == clientFreeRDP {
		return startProcess(path, freeRDPArgs(t), nil)
	}

	// mstsc reads credentials from the Windows vault and connection settings
	// from an .rdp file; both are removed once the client exits.
	credTarget := "TERMSRV/" + t.Host
	auxCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := l.runAux(auxCtx, "cmdkey", "/generic:"+credTarget, "/user:"+t.User, "/pass:"+t.Password); err != nil {
		logging.Debugf("cmdkey staging failed: %v", err)
	}
	cancel()

	rdpFile := filepath.Join(os.TempDir(), fmt.Sprintf("deskwatch_%s.rdp", sanitizeFileName(t.Host)))
	if err := os.WriteFile(rdpFile, []byte(rdpFileContent(t)), 0o600); err != nil {
		l.removeCredential(credTarget)
		return nil, fmt.Errorf("write rdp file: %w", err)
	}

	cleanup := func() {
		l.removeCredential(credTarget)
		if err := os.Remove(rdpFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Debugf("remove %s: %v", rdpFile, err)
		}
	}
	return startProcess(path, []string{rdpFile}, cleanup)
}

func (l *DesktopLauncher) removeCredential(credTarget string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.runAux(ctx, "cmdkey", "/delete:"+credTarget); err != nil {
		logging.Debugf("cmdkey cleanup failed: %v", err)
	}
}

func (l *DesktopLauncher) resolveClient() (string, clientKind, error) {
	if l.ClientPath != "" {
		if _, err := l.stat(l.ClientPath); err != nil {
			return "", 0, fmt.Errorf("configured client %s: %w", l.ClientPath, err)
		}
		if isMSTSC(l.ClientPath) {
			return l.ClientPath, clientMSTSC, nil
		}
		return l.ClientPath, clientFreeRDP, nil
	}

	if l.exeDir != "" {
		bundled := filepath.Join(l.exeDir, "tools", "wfreerdp")
		if l.goos == "windows" {
			bundled += ".exe"
		}
		if _, err := l.stat(bundled); err == nil {
			return bundled, clientFreeRDP, nil
		}
	}

	for _, name := range []string{"xfreerdp3", "xfreerdp", "wfreerdp"} {
		if p, err := l.lookPath(name); err == nil {
			return p, clientFreeRDP, nil
		}
	}

	if l.goos == "windows" {
		if p, err := l.lookPath("mstsc"); err == nil {
			return p, clientMSTSC, nil
		}
	}
	return "", 0, ErrNoClient
}

func isMSTSC(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	return base == "mstsc" || base == "mstsc.exe"
}

func freeRDPArgs(t Target) []string {
	return []string{
		"/v:" + t.address(),
		"/u:" + t.User,
		"/p:" + t.Password,
		"/cert:ignore",
		"/f",
		"/dynamic-resolution",
	}
}

func rdpFileContent(t Target) string {
	lines := []string{
		"full address:s:" + t.address(),
		"username:s:" + t.User,
		"prompt for credentials:i:0",
		"administrative session:i:0",
		"screen mode id:i:2",
		"use multimon:i:0",
		"redirectclipboard:i:1",
		"authentication level:i:2",
		"enablecredsspsupport:i:1",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, s)
}

func runAux(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)
	return cmd.Run()
}
