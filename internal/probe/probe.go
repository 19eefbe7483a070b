// Package probe estimates how many interactive sessions are active on the
// shared desktop host by running a status command over SSH.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/remote"
)

const (
	// FreeSentinel is accepted as "no active sessions".
	FreeSentinel = "libre"
	// BusySentinel is accepted as "one active session".
	BusySentinel = "ocupado"
)

var errCommandEmpty = errors.New("command empty")

// Session describes one interactive session reported by the remote host.
type Session struct {
	User  string
	ID    int
	State string
}

// Active reports whether the session may receive interactive messages.
func (s Session) Active() bool {
	return strings.EqualFold(strings.TrimSpace(s.State), "active")
}

// Outcome is the result of a single probe. It is built once per poll and
// never modified after being returned.
type Outcome struct {
	OK             bool
	ActiveSessions int
	RemoteAlias    string
	Sessions       []Session
	Error          string
	ExitStatus     int
	CheckedAt      time.Time
}

// Failed builds a failed outcome carrying reason.
func Failed(reason string) Outcome {
	return Outcome{Error: reason, ExitStatus: remote.ExitUnknown, CheckedAt: time.Now().UTC()}
}

// WithRemoteAlias returns a copy of o with the occupant alias set.
func (o Outcome) WithRemoteAlias(alias string) Outcome {
	o.RemoteAlias = alias
	if o.Sessions != nil {
		o.Sessions = append([]Session(nil), o.Sessions...)
	}
	return o
}

// Request is a value snapshot of what the probe needs for one run.
type Request struct {
	Target          remote.Target
	Command         string
	SessionsCommand string
}

// Prober runs probes against the remote host.
type Prober struct{}

// New constructs a Prober.
func New() *Prober {
	return &Prober{}
}

// Probe runs the status command once. It never returns an error: every
// failure is reported through the Outcome.
func (p *Prober) Probe(ctx context.Context, req Request) Outcome {
	if err := req.Target.Validate(); err != nil {
		return Failed(err.Error())
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return Failed(errCommandEmpty.Error())
	}

	client, err := remote.Dial(ctx, req.Target)
	if err != nil {
		return Failed(err.Error())
	}
	defer client.Close()

	logging.LogRemoteCommand(req.Target.Host, command)
	res, err := remote.Run(ctx, client, command, req.Target.Timeout)
	if err != nil {
		return Failed(err.Error())
	}

	out := ParseOutput(res.Stdout)
	out.ExitStatus = res.ExitStatus
	if res.ExitStatus != 0 {
		logging.Debugf("probe command exited with status %d (output %q)", res.ExitStatus, res.Stdout)
	}
	if !out.OK {
		return out
	}

	if sessionsCommand := strings.TrimSpace(req.SessionsCommand); sessionsCommand != "" {
		logging.LogRemoteCommand(req.Target.Host, sessionsCommand)
		listing, err := remote.Run(ctx, client, sessionsCommand, req.Target.Timeout)
		switch {
		case err != nil:
			logging.Debugf("session listing failed: %v", err)
		case !listing.Success():
			logging.Debugf("session listing exited with status %d", listing.ExitStatus)
		default:
			out.Sessions = ParseSessions(listing.Stdout)
		}
	}
	return out
}

// ParseOutput applies the output policy: a non-negative integer is the
// session count, the free and busy sentinels map to 0 and 1, anything else is
// a failure. The exit status is not consulted.
func ParseOutput(raw string) Outcome {
	output := strings.TrimSpace(raw)
	now := time.Now().UTC()

	if n, err := strconv.Atoi(output); err == nil && n >= 0 {
		return Outcome{OK: true, ActiveSessions: n, CheckedAt: now}
	}
	if strings.EqualFold(output, FreeSentinel) {
		return Outcome{OK: true, ActiveSessions: 0, CheckedAt: now}
	}
	if strings.EqualFold(output, BusySentinel) {
		return Outcome{OK: true, ActiveSessions: 1, CheckedAt: now}
	}
	return Outcome{
		Error:      fmt.Sprintf("unexpected output: '%s'", output),
		ExitStatus: remote.ExitUnknown,
		CheckedAt:  now,
	}
}
