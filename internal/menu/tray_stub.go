//go:build !cgo && !windows
// +build !cgo,!windows

package menu

import (
	"context"
	"errors"
)

// ErrTrayUnavailable is returned when the binary was built without cgo.
var ErrTrayUnavailable = errors.New("system tray is unavailable without cgo support")

type stubController struct{}

func newTrayController() trayController {
	return stubController{}
}

func (stubController) Run(context.Context, <-chan View, chan<- Action) error {
	return ErrTrayUnavailable
}
