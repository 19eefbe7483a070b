//go:build darwin

package menu

import "os/exec"

func launchFolder(dir string) error {
	return exec.Command("open", dir).Start()
}
