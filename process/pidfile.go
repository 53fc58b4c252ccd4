package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zhubert/agentshell/exec"
)

// psTimeout bounds the command-line lookup for a recorded pid.
const psTimeout = 5 * time.Second

// WritePIDFile records the running agent's pid so a restarted daemon can
// find it after a crash.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// ReadPIDFile returns the pid stored at path. A missing file returns 0, nil.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile deletes the pid file, ignoring a missing one.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CommandLine returns the full command line of pid using ps.
func CommandLine(ctx context.Context, executor exec.CommandExecutor, pid int) (string, error) {
	if runtime.GOOS == "windows" {
		return "", ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, psTimeout)
	defer cancel()
	out, err := executor.Output(ctx, "", "ps", "-p", strconv.Itoa(pid), "-o", "args=")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CleanupOrphan kills the agent recorded in the pid file if it is still
// alive and its command line contains marker (the agent script path). The
// marker check keeps a recycled pid from being killed. The pid file is
// removed in every case. It returns the killed pid, or 0.
func CleanupOrphan(ctx context.Context, executor exec.CommandExecutor, pidFile, marker string, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}

	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		RemovePIDFile(pidFile)
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}
	defer RemovePIDFile(pidFile)

	if !Alive(pid) {
		log.Debug("recorded agent already gone", "pid", pid)
		return 0, nil
	}

	cmdline, err := CommandLine(ctx, executor, pid)
	if err != nil {
		log.Debug("could not read command line, leaving process alone", "pid", pid, "error", err)
		return 0, nil
	}
	if !strings.Contains(cmdline, marker) {
		log.Debug("pid reused by another process", "pid", pid, "command", cmdline)
		return 0, nil
	}

	log.Info("killing orphaned agent", "pid", pid, "command", cmdline)
	if err := killPID(pid); err != nil {
		return 0, fmt.Errorf("failed to kill orphaned agent %d: %w", pid, err)
	}
	return pid, nil
}
