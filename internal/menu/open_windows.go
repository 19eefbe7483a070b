//go:build windows

package menu

import "os/exec"

func launchFolder(dir string) error {
	return exec.Command("explorer.exe", dir).Start()
}
