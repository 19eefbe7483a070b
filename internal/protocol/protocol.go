package protocol

import (
	"time"

	"github.com/example/deskwatch/internal/presence"
)

const (
	// CommandStatusGet returns the last published occupancy status.
	CommandStatusGet = "status.get"
	// CommandStatusRefresh asks the tray for an immediate poll and returns
	// the status known at that moment.
	CommandStatusRefresh = "status.refresh"
)

// Request is the control payload sent from the CLI to the running tray.
type Request struct {
	Token   string `json:"token"`
	Command string `json:"command"`
}

// Response is the control reply emitted by the tray.
type Response struct {
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Session mirrors probe.Session on the wire.
type Session struct {
	User  string `json:"user,omitempty"`
	ID    int    `json:"id"`
	State string `json:"state"`
}

// Status is the wire form of presence.Status.
type Status struct {
	State          string    `json:"state"`
	Summary        string    `json:"summary"`
	ActiveSessions int       `json:"activeSessions"`
	Occupant       string    `json:"occupant,omitempty"`
	Self           bool      `json:"self,omitempty"`
	Connected      bool      `json:"connected"`
	CanRequest     bool      `json:"canRequest"`
	ProbeError     string    `json:"probeError,omitempty"`
	BeaconError    string    `json:"beaconError,omitempty"`
	Sessions       []Session `json:"sessions,omitempty"`
	CheckedAt      time.Time `json:"checkedAt"`
}

// FromStatus converts a presence status for transmission.
func FromStatus(st presence.Status) *Status {
	out := &Status{
		State:          st.State.String(),
		Summary:        st.Summary(),
		ActiveSessions: st.Probe.ActiveSessions,
		Occupant:       st.OccupantAlias(),
		Connected:      st.Connected,
		CanRequest:     st.CanRequest(),
		ProbeError:     st.Probe.Error,
		BeaconError:    st.BeaconError,
		CheckedAt:      st.CheckedAt,
	}
	if st.Occupant != nil {
		out.Self = st.Occupant.Self
	}
	for _, s := range st.Probe.Sessions {
		out.Sessions = append(out.Sessions, Session{User: s.User, ID: s.ID, State: s.State})
	}
	return out
}
