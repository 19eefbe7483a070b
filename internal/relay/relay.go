// Package relay asks the current occupant to give up the remote desktop by
// sending a message to every active session on the host.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/probe"
	"github.com/example/deskwatch/internal/remote"
)

// ErrInvalidSession is returned for session ids that cannot be addressed.
var ErrInvalidSession = errors.New("invalid session id")

// Notifier delivers one message to one session.
type Notifier interface {
	NotifySession(ctx context.Context, sessionID int, message string) error
}

// Result counts deliveries. OK is set when at least one message went out.
type Result struct {
	Sent   int
	Failed int
	OK     bool
}

// Broadcast sends message to every session whose state is Active. Failures
// are counted, not retried.
func Broadcast(ctx context.Context, n Notifier, sessions []probe.Session, message string) Result {
	var res Result
	for _, s := range probe.ActiveSessions(sessions) {
		if err := n.NotifySession(ctx, s.ID, message); err != nil {
			logging.Debugf("notify session %d failed: %v", s.ID, err)
			res.Failed++
			continue
		}
		res.Sent++
	}
	res.OK = res.Sent > 0
	return res
}

// SSHNotifier runs msg.exe on the remote host.
type SSHNotifier struct {
	Target remote.Target
	exec   func(ctx context.Context, t remote.Target, command string) (remote.Result, error)
}

// NewSSHNotifier returns a notifier for target.
func NewSSHNotifier(target remote.Target) *SSHNotifier {
	return &SSHNotifier{Target: target, exec: remote.Exec}
}

// NotifySession messages session id. Only exit status 0 counts as delivered.
func (n *SSHNotifier) NotifySession(ctx context.Context, sessionID int, message string) error {
	if sessionID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSession, sessionID)
	}
	return n.run(ctx, strconv.Itoa(sessionID), message)
}

// NotifyUser messages every session of user (plain or DOMAIN\user).
func (n *SSHNotifier) NotifyUser(ctx context.Context, user, message string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return remote.ErrUserEmpty
	}
	return n.run(ctx, user, message)
}

func (n *SSHNotifier) run(ctx context.Context, recipient, message string) error {
	if err := n.Target.Validate(); err != nil {
		return err
	}
	res, err := n.exec(ctx, n.Target, MessageCommand(recipient, n.Target.Host, message))
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("msg exited with status %d: %s", res.ExitStatus, res.Stderr)
	}
	return nil
}

// MessageCommand builds the msg invocation for recipient.
func MessageCommand(recipient, host, message string) string {
	return fmt.Sprintf("msg %s /server:%s \"%s\"", recipient, host, escapeMessage(message))
}

func escapeMessage(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// RequestMessage is the default text sent on behalf of alias.
func RequestMessage(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = "Another user"
	}
	return fmt.Sprintf("%s would like to use this remote desktop. Please save your work and log off when you can.", alias)
}
