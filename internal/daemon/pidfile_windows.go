//go:build windows

package daemon

import "os"

// Windows has no SIGTERM delivery, so terminate and kill both end the process.

// alive relies on FindProcess opening a handle, which fails for unknown PIDs.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}

func terminate(pid int) error { return kill(pid) }

func kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
