//go:build !windows && !darwin

package menu

import "os/exec"

func launchFolder(dir string) error {
	return exec.Command("xdg-open", dir).Start()
}
