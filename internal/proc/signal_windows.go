//go:build windows

package proc

import (
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// killProcess terminates a Windows process by PID. Group targeting via
// negative pid collapses to the single process; daemons spawn their own
// children into the same job on Windows.
func killProcess(pid int, signal syscall.Signal) error {
	if pid == 0 {
		return nil
	}
	if pid < 0 {
		pid = -pid
	}
	if signal == 0 {
		return checkProcessExists(pid)
	}
	handle, err := openProcess(processTerminate, pid)
	if err != nil {
		// Already gone; rapid exits race the open.
		return nil
	}
	defer closeHandle(handle)
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func checkProcessExists(pid int) error {
	handle, err := openProcess(processQueryInformation, pid)
	if err != nil {
		return err
	}
	return closeHandle(handle)
}

func openProcess(access uint32, pid int) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(uint32(pid)))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}

// processExists checks whether a pid is present.
func processExists(pid int) bool {
	return checkProcessExists(pid) == nil
}
