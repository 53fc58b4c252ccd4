package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/zhubert/agentshell/process"
)

// AbnormalExitCode is reported when the agent was killed by a signal or its
// exit status could not be determined.
const AbnormalExitCode = -1

// Process is a running agent. The Manager owns it exclusively: nothing
// else writes to its input or signals it.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Pid() int
	Signal(sig process.Signal) error

	// Wait blocks until the process exits. It is called once, concurrently
	// with reads of the output streams, and must not close them.
	Wait() (exitCode int, err error)
}

// SpawnSpec describes the agent command line.
type SpawnSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // Added to the inherited environment
}

// Spawner starts agent processes.
type Spawner interface {
	Spawn(spec SpawnSpec) (Process, error)
}

// ExecSpawner starts agents with os/exec.
type ExecSpawner struct{}

// Spawn starts the command with three pipes in its own process group.
func (ExecSpawner) Spawn(spec SpawnSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	process.SetProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	// Output pipes are created here rather than with StdoutPipe so that
	// Wait leaves the read ends open until the readers reach EOF.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stderrR.Close()
		return nil, err
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdoutR, stderr: stderrR}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig process.Signal) error {
	return process.Send(p.cmd.Process, sig)
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return AbnormalExitCode, err
	}

	// A non-zero exit is reported through the code, not the error.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}

	code := state.ExitCode()
	if code < 0 {
		code = AbnormalExitCode
	}
	return code, err
}
