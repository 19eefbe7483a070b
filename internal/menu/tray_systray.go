//go:build cgo || windows
// +build cgo windows

package menu

import (
	"context"
	"sync"

	"github.com/getlantern/systray"

	"github.com/example/deskwatch/internal/presence"
)

type systrayController struct {
	mu    sync.Mutex
	items *trayItems
}

// trayItems is the fixed menu; views only change titles, visibility and
// enabled state.
type trayItems struct {
	status    *systray.MenuItem
	notice    *systray.MenuItem
	connect   *systray.MenuItem
	request   *systray.MenuItem
	configure *systray.MenuItem
	folder    *systray.MenuItem
	quit      *systray.MenuItem
}

func newTrayController() trayController {
	return &systrayController{}
}

func (c *systrayController) Run(ctx context.Context, views <-chan View, actions chan<- Action) error {
	done := make(chan struct{})

	go systray.Run(func() {
		systray.SetIcon(statusIcon(presence.StateUnknown))
		systray.SetTooltip(appName)

		items := &trayItems{}
		items.status = systray.AddMenuItem("Checking…", "Remote desktop status")
		items.status.Disable()
		items.notice = systray.AddMenuItem("", "")
		items.notice.Disable()
		items.notice.Hide()
		systray.AddSeparator()
		items.connect = systray.AddMenuItem("Connect", "Open the remote desktop")
		items.request = systray.AddMenuItem("Request the desktop", "Ask the current user to free the remote desktop")
		items.request.Hide()
		items.configure = systray.AddMenuItem("Configure credentials…", "Set host, user and password")
		items.folder = systray.AddMenuItem("Open configuration folder", "Show the configuration folder")
		systray.AddSeparator()
		items.quit = systray.AddMenuItem("Quit", "Exit deskwatch")

		c.mu.Lock()
		c.items = items
		c.mu.Unlock()

		go forwardClicks(ctx, items.connect.ClickedCh, ActionConnect, actions)
		go forwardClicks(ctx, items.request.ClickedCh, ActionRequest, actions)
		go forwardClicks(ctx, items.configure.ClickedCh, ActionConfigure, actions)
		go forwardClicks(ctx, items.folder.ClickedCh, ActionOpenConfigFolder, actions)
		go forwardClicks(ctx, items.quit.ClickedCh, ActionQuit, actions)

		go c.listen(ctx, views)
	}, func() {
		close(done)
	})

	select {
	case <-ctx.Done():
		systray.Quit()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *systrayController) listen(ctx context.Context, views <-chan View) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				systray.Quit()
				return
			}
			c.render(v)
		}
	}
}

func (c *systrayController) render(v View) {
	c.mu.Lock()
	items := c.items
	c.mu.Unlock()
	if items == nil {
		return
	}

	if len(v.Icon) > 0 {
		systray.SetIcon(v.Icon)
	}
	systray.SetTooltip(v.Tooltip)
	items.status.SetTitle(v.Status)

	if v.Notice != "" {
		items.notice.SetTitle(v.Notice)
		items.notice.Show()
	} else {
		items.notice.Hide()
	}

	items.connect.SetTitle(v.ConnectLabel)
	if v.ConnectEnabled {
		items.connect.Enable()
	} else {
		items.connect.Disable()
	}

	if v.RequestVisible {
		items.request.Show()
	} else {
		items.request.Hide()
	}
}

func forwardClicks(ctx context.Context, ch <-chan struct{}, action Action, actions chan<- Action) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case actions <- action:
			case <-ctx.Done():
				return
			}
		}
	}
}
