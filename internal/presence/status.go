package presence

import (
	"fmt"
	"time"

	"github.com/example/deskwatch/internal/beacon"
	"github.com/example/deskwatch/internal/probe"
)

// State is the unified occupancy verdict.
type State int

const (
	StateUnknown State = iota
	StateFree
	StateOccupied
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateOccupied:
		return "occupied"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Occupant is the client advertised by a valid beacon.
type Occupant struct {
	Alias       string
	InstanceID  string
	LastSeenUTC time.Time
	Self        bool
}

// Status is one published snapshot. It is never modified after publication.
type Status struct {
	State       State
	Probe       probe.Outcome
	Occupant    *Occupant
	BeaconError string
	Connected   bool
	CheckedAt   time.Time
}

// OccupantAlias returns the advertised alias or "" when unknown.
func (s Status) OccupantAlias() string {
	if s.Occupant == nil {
		return ""
	}
	return s.Occupant.Alias
}

// OccupiedByOther reports whether somebody other than this installation is
// using the desktop.
func (s Status) OccupiedByOther() bool {
	if s.State != StateOccupied || s.Connected {
		return false
	}
	return s.Occupant == nil || !s.Occupant.Self
}

// CanRequest reports whether asking the current occupant to release the
// desktop makes sense: someone else holds it and at least one session can
// receive the message.
func (s Status) CanRequest() bool {
	return s.OccupiedByOther() && len(probe.ActiveSessions(s.Probe.Sessions)) > 0
}

// Summary is a one-line human description.
func (s Status) Summary() string {
	switch s.State {
	case StateFree:
		return "Free"
	case StateOccupied:
		switch {
		case s.Occupant != nil && s.Occupant.Self, s.Connected && s.Occupant == nil:
			return "In use by you"
		case s.Occupant != nil:
			return "In use by " + s.Occupant.Alias
		case s.Probe.OK:
			return fmt.Sprintf("In use (%d active session(s))", s.Probe.ActiveSessions)
		default:
			return "In use"
		}
	case StateDegraded:
		return "Status unavailable: " + s.Probe.Error
	default:
		return "Checking…"
	}
}

// combine merges one probe outcome and one beacon read. A valid beacon wins
// over a failed or zero-count probe; the probe count alone still marks the
// desktop occupied for peers that never write beacons.
func combine(out probe.Outcome, read beacon.ReadResult, instanceID string) Status {
	st := Status{Probe: out, CheckedAt: out.CheckedAt}
	if read.Err != nil {
		st.BeaconError = read.Err.Error()
	}
	if read.Found {
		st.Occupant = &Occupant{
			Alias:       read.Record.Alias,
			InstanceID:  read.Record.InstanceID,
			LastSeenUTC: read.Record.LastSeenUTC,
			Self:        read.Record.OwnedBy(instanceID),
		}
		st.Probe = out.WithRemoteAlias(read.Record.Alias)
	}

	switch {
	case read.Found, out.OK && out.ActiveSessions > 0:
		st.State = StateOccupied
	case out.OK:
		st.State = StateFree
	default:
		st.State = StateDegraded
	}
	return st
}
