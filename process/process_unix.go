//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func send(p *os.Process, sig Signal) error {
	switch sig {
	case Interrupt:
		return p.Signal(unix.SIGINT)
	case Terminate:
		return p.Signal(unix.SIGTERM)
	case Kill:
		// Negative pid addresses the group created by Setpgid.
		if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
			return p.Kill()
		}
		return nil
	}
	return ErrUnsupported
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func killPID(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
		return nil
	}
	return unix.Kill(pid, unix.SIGKILL)
}
