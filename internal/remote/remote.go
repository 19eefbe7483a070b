// Package remote dials the shared desktop host over SSH and runs single
// non-interactive commands or opens SFTP sessions on it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/example/deskwatch/internal/config"
)

// DefaultTimeout bounds both the connect phase and a single command.
const DefaultTimeout = 5 * time.Second

var (
	ErrHostEmpty = errors.New("host empty")
	ErrUserEmpty = errors.New("user empty")
)

// Target is an immutable snapshot of everything needed to reach the host.
type Target struct {
	Host           string
	Port           int
	User           string
	Password       string
	KnownHostsFile string
	Timeout        time.Duration
}

// TargetFromConfig snapshots the connection fields of cfg.
func TargetFromConfig(cfg config.Config) Target {
	return Target{
		Host:           strings.TrimSpace(cfg.Server.Host),
		Port:           cfg.Server.SSHPort,
		User:           strings.TrimSpace(cfg.Server.Username),
		Password:       cfg.Server.Password,
		KnownHostsFile: cfg.Server.KnownHostsFile,
	}
}

// Address returns host:port, defaulting the port to 22.
func (t Target) Address() string {
	port := t.Port
	if port <= 0 {
		port = config.DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Validate reports input errors that make a connection attempt pointless.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return ErrHostEmpty
	}
	if strings.TrimSpace(t.User) == "" {
		return ErrUserEmpty
	}
	return nil
}

func (t Target) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

func (t Target) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if t.Password != "" {
		password := t.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if t.KnownHostsFile != "" {
		cb, err := knownhosts.New(t.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeys = cb
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         t.timeout(),
	}, nil
}

// Dial opens an authenticated SSH client. The connect phase is bounded by
// the target timeout and by ctx.
func Dial(ctx context.Context, t Target) (*ssh.Client, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	cfg, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	d := net.Dialer{Timeout: t.timeout()}
	conn, err := d.DialContext(dialCtx, "tcp", t.Address())
	if err != nil {
		return nil, err
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, t.Address(), cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
