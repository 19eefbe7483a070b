//go:build windows

package main

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

func init() {
	if shouldShowConsole(os.Args[1:], os.Getenv("DESKWATCH_SHOW_CONSOLE")) {
		return
	}
	hideConsoleWindow()
}

// shouldShowConsole keeps the console for CLI subcommands, for --console and
// when DESKWATCH_SHOW_CONSOLE is set. Only the bare tray hides it.
func shouldShowConsole(args []string, env string) bool {
	if env != "" {
		return true
	}

	for _, raw := range args {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "/") {
			return normalizeCommand(trimmed) != "tray"
		}

		name, value, hasValue := strings.Cut(normalizeCommand(trimmed), "=")
		if name != "console" {
			continue
		}
		if !hasValue {
			return true
		}
		if parsed, err := strconv.ParseBool(value); err == nil && parsed {
			return true
		}
	}

	return false
}

func hideConsoleWindow() {
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	user32 := windows.NewLazySystemDLL("user32.dll")

	getConsoleWindow := kernel32.NewProc("GetConsoleWindow")
	showWindow := user32.NewProc("ShowWindow")
	freeConsole := kernel32.NewProc("FreeConsole")

	hwnd, _, _ := getConsoleWindow.Call()
	if hwnd == 0 {
		return
	}

	const swHide = 0
	showWindow.Call(hwnd, swHide)
	freeConsole.Call()
}
