//go:build !windows

package proc

import "syscall"

// killProcess sends a signal to a process; a negative pid targets the whole
// process group.
func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

// processExists checks whether a pid is present using the null signal.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
