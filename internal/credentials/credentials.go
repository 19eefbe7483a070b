// Package credentials collects the desktop host credentials from the user
// and keeps at most one prompt open at a time.
package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/example/deskwatch/internal/config"
)

var (
	// ErrPromptBusy is returned when another prompt is already open.
	ErrPromptBusy = errors.New("a credentials prompt is already open")
	// ErrIncomplete is returned when host, user or password stays empty.
	ErrIncomplete = errors.New("host, user and password are all required")
	// ErrNoTerminal is returned when there is no console to prompt on.
	ErrNoTerminal = errors.New("no terminal available to prompt for credentials; run 'deskwatch configure'")
)

// Credentials are the values the prompt edits.
type Credentials struct {
	Host     string
	User     string
	Password string
}

// FromConfig extracts the current credentials from cfg.
func FromConfig(cfg config.Config) Credentials {
	return Credentials{Host: cfg.Server.Host, User: cfg.Server.Username, Password: cfg.Server.Password}
}

// Apply stores c into cfg.
func (c Credentials) Apply(cfg *config.Config) {
	cfg.Server.Host = strings.TrimSpace(c.Host)
	cfg.Server.Username = strings.TrimSpace(c.User)
	cfg.Server.Password = c.Password
}

// Prompter asks the user for credentials, starting from current.
type Prompter interface {
	Prompt(ctx context.Context, current Credentials) (Credentials, error)
}

// Gate admits one holder at a time without blocking.
type Gate struct {
	busy atomic.Bool
}

// TryEnter claims the gate and reports whether it succeeded.
func (g *Gate) TryEnter() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Leave releases the gate.
func (g *Gate) Leave() {
	g.busy.Store(false)
}

// Busy reports whether the gate is held.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// Guarded wraps a Prompter so a second request while one is open is refused
// instead of opening another prompt.
type Guarded struct {
	gate  Gate
	inner Prompter
}

// NewGuarded guards p.
func NewGuarded(p Prompter) *Guarded {
	return &Guarded{inner: p}
}

// Prompt implements Prompter.
func (g *Guarded) Prompt(ctx context.Context, current Credentials) (Credentials, error) {
	if !g.gate.TryEnter() {
		return Credentials{}, ErrPromptBusy
	}
	defer g.gate.Leave()
	return g.inner.Prompt(ctx, current)
}

// TerminalPrompter reads credentials from a console. The password is read
// without echo when the input is a terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	fd           int
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

// NewTerminalPrompter prompts on stdin and stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		In:           os.Stdin,
		Out:          os.Stdout,
		fd:           int(os.Stdin.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// Available reports whether stdin is an interactive terminal.
func (p *TerminalPrompter) Available() bool {
	return p.isTerminal != nil && p.isTerminal(p.fd)
}

// Prompt implements Prompter. Empty answers keep the current value.
func (p *TerminalPrompter) Prompt(ctx context.Context, current Credentials) (Credentials, error) {
	reader := bufio.NewReader(p.In)
	next := current

	host, err := p.ask(reader, "Host", current.Host)
	if err != nil {
		return Credentials{}, err
	}
	next.Host = host

	user, err := p.ask(reader, "User", current.User)
	if err != nil {
		return Credentials{}, err
	}
	next.User = user

	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	hint := ""
	if current.Password != "" {
		hint = " [keep current]"
	}
	fmt.Fprintf(p.Out, "Password%s: ", hint)
	var password string
	if p.Available() && p.readPassword != nil {
		raw, err := p.readPassword(p.fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := readLine(reader)
		if err != nil {
			return Credentials{}, err
		}
		password = line
	}
	if password != "" {
		next.Password = password
	}

	if strings.TrimSpace(next.Host) == "" || strings.TrimSpace(next.User) == "" || strings.TrimSpace(next.Password) == "" {
		return Credentials{}, ErrIncomplete
	}
	return next, nil
}

func (p *TerminalPrompter) ask(reader *bufio.Reader, label, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(p.Out, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(p.Out, "%s: ", label)
	}
	line, err := readLine(reader)
	if err != nil {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return current, nil
	}
	return line, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
