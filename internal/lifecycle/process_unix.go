//go:build unix

package lifecycle

import (
	"os/exec"
	"syscall"
)

func hideWindow(cmd *exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}
