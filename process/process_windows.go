//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

// Windows has no process groups reachable through os/exec; taskkill /T
// walks the tree instead.
func setProcAttr(cmd *exec.Cmd) {}

func send(p *os.Process, sig Signal) error {
	switch sig {
	case Interrupt:
		return ErrUnsupported
	case Terminate:
		if err := exec.Command("taskkill", "/T", "/PID", strconv.Itoa(p.Pid)).Run(); err != nil {
			return p.Kill()
		}
		return nil
	case Kill:
		if err := killPID(p.Pid); err != nil {
			return p.Kill()
		}
		return nil
	}
	return ErrUnsupported
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

func killPID(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
