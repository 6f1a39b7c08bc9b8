package process

import (
	"errors"
	"syscall"
)

// sessionAttrs detaches the child from the controlling terminal.
func sessionAttrs() *syscall.SysProcAttr { return &syscall.SysProcAttr{Setsid: true} }

// groupAttrs puts the child in its own process group so terminal signals
// reach only the parent, which forwards them.
func groupAttrs() *syscall.SysProcAttr { return &syscall.SysProcAttr{Setpgid: true} }

// signalGroup signals the process group led by pid, falling back to pid
// alone when it leads no group.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	return signalPID(pid, sig)
}

// signalPID signals pid; a vanished process is not an error.
func signalPID(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
