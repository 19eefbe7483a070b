package probe

import (
	"strconv"
	"strings"
)

// ParseSessions reads the table printed by `query session`:
//
//	 SESSIONNAME       USERNAME                 ID  STATE   TYPE        DEVICE
//	>console           alice                     1  Active
//	                   bob                       2  Disc
//
// Rows without a numeric id (the header, blank lines) are skipped. The current
// session marker '>' is ignored.
func ParseSessions(raw string) []Session {
	var sessions []Session
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		idx := -1
		id := 0
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err == nil && n >= 0 {
				idx, id = i, n
				break
			}
		}
		if idx < 0 {
			continue
		}

		s := Session{ID: id}
		switch {
		case idx >= 2:
			s.User = fields[idx-1]
		case idx == 1 && !isSessionName(fields[0]):
			s.User = fields[0]
		}
		if idx+1 < len(fields) {
			s.State = fields[idx+1]
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// ActiveSessions returns the sessions in the Active state, preserving order.
func ActiveSessions(sessions []Session) []Session {
	var out []Session
	for _, s := range sessions {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

func isSessionName(field string) bool {
	lower := strings.ToLower(field)
	switch {
	case lower == "services", lower == "console":
		return true
	case strings.HasPrefix(lower, "rdp-tcp"), strings.HasPrefix(lower, "ica-"):
		return true
	}
	return false
}
