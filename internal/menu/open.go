package menu

import (
	"fmt"
	"os"
)

// openFolder shows dir in the platform file manager. The directory must
// exist; launching happens in the background.
func openFolder(dir string) error {
	if dir == "" {
		return fmt.Errorf("no folder to open")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return launchFolder(dir)
}
