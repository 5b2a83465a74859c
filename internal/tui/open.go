package tui

import (
	"os/exec"
	"runtime"
	"strings"
)

// openExternally hands path to the desktop's default viewer without waiting
// for it to exit.
func openExternally(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
