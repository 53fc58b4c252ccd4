// Package process holds the platform-specific pieces of agent supervision:
// signal delivery, process groups, and cleanup of an agent left behind by a
// daemon that crashed.
package process

import (
	"errors"
	"os"
	"os/exec"
)

// Signal is a platform-neutral control signal for the agent process.
type Signal int

const (
	// Interrupt asks the agent to end its voice session (SIGINT).
	Interrupt Signal = iota
	// Terminate asks the agent to exit (SIGTERM).
	Terminate
	// Kill forcibly ends the agent and its process group.
	Kill
)

func (s Signal) String() string {
	switch s {
	case Interrupt:
		return "interrupt"
	case Terminate:
		return "terminate"
	case Kill:
		return "kill"
	default:
		return "unknown"
	}
}

// ErrUnsupported is returned when a signal has no equivalent on this platform.
var ErrUnsupported = errors.New("signal not supported on this platform")

// SetProcAttr prepares cmd so the child can be signalled as a group.
func SetProcAttr(cmd *exec.Cmd) {
	setProcAttr(cmd)
}

// Send delivers sig to p. Kill targets the whole process group where the
// platform has one, falling back to the single process.
func Send(p *os.Process, sig Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return send(p, sig)
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}
