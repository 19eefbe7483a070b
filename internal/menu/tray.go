package menu

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/deskwatch/internal/config"
	"github.com/example/deskwatch/internal/presence"
)

// Action is a user click forwarded from the tray to the runner loop.
type Action int

const (
	ActionConnect Action = iota
	ActionRequest
	ActionConfigure
	ActionOpenConfigFolder
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionRequest:
		return "request"
	case ActionConfigure:
		return "configure"
	case ActionOpenConfigFolder:
		return "open-config-folder"
	case ActionQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// View is everything the tray renders. It is rebuilt from scratch by the
// runner on every change.
type View struct {
	Icon           []byte
	Tooltip        string
	Status         string
	Notice         string
	ConnectLabel   string
	ConnectEnabled bool
	RequestVisible bool
}

// trayController renders views and reports clicks until ctx is canceled or
// the user quits from the tray itself.
type trayController interface {
	Run(ctx context.Context, views <-chan View, actions chan<- Action) error
}

const appName = "deskwatch"

func buildView(st presence.Status, cfg config.Config, launching bool, notice string) View {
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = "server"
	}

	v := View{
		Icon:           statusIcon(st.State),
		Tooltip:        fmt.Sprintf("%s: %s", appName, st.Summary()),
		Status:         st.Summary(),
		Notice:         notice,
		ConnectLabel:   "Connect to " + host,
		ConnectEnabled: true,
		RequestVisible: st.CanRequest(),
	}
	switch {
	case st.Connected:
		v.ConnectLabel = "Connected to " + host
		v.ConnectEnabled = false
	case launching:
		v.ConnectLabel = "Connecting to " + host + "…"
		v.ConnectEnabled = false
	}
	return v
}
