// Package interpreter locates a working Python interpreter for the agent.
//
// Candidates come from a per-platform table; the first one whose
// `--version` check exits zero wins. An explicit override from the
// environment is always tried first.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/zhubert/agentshell/exec"
)

// CheckTimeout bounds a single `--version` check.
const CheckTimeout = 5 * time.Second

// ErrMissing marks a candidate whose executable does not exist.
var ErrMissing = errors.New("executable not found")

// Candidate is an interpreter invocation: an executable plus fixed leading
// arguments (for example the Windows launcher `py -3`).
type Candidate struct {
	Path string
	Args []string
}

// Command returns the full argv prefix for the candidate.
func (c Candidate) Command() []string {
	return append([]string{c.Path}, c.Args...)
}

func (c Candidate) String() string {
	return strings.Join(c.Command(), " ")
}

// Table maps a GOOS value to the candidate list for that platform, in
// priority order. The "default" entry covers platforms with no entry.
type Table map[string]func(agentDir string) []Candidate

// DefaultTable is the built-in search order.
var DefaultTable = Table{
	"default": func(dir string) []Candidate {
		return []Candidate{
			{Path: filepath.Join(dir, ".venv", "bin", "python3")},
			{Path: filepath.Join(dir, "venv", "bin", "python3")},
			{Path: "python3"},
			{Path: "python"},
		}
	},
	"darwin": func(dir string) []Candidate {
		return []Candidate{
			{Path: filepath.Join(dir, ".venv", "bin", "python3")},
			{Path: filepath.Join(dir, "venv", "bin", "python3")},
			{Path: "/opt/homebrew/bin/python3"},
			{Path: "/usr/local/bin/python3"},
			{Path: "python3"},
			{Path: "python"},
		}
	},
	"windows": func(dir string) []Candidate {
		return []Candidate{
			{Path: filepath.Join(dir, ".venv", "Scripts", "python.exe")},
			{Path: filepath.Join(dir, "venv", "Scripts", "python.exe")},
			{Path: "py", Args: []string{"-3"}},
			{Path: "python"},
			{Path: "python3"},
		}
	},
}

// Candidates returns the candidate list for goos.
func (t Table) Candidates(goos, agentDir string) []Candidate {
	fn, ok := t[goos]
	if !ok {
		fn, ok = t["default"]
	}
	if !ok {
		return nil
	}
	return fn(agentDir)
}

// Source says where a checked candidate came from.
type Source string

const (
	SourceOverride Source = "override"
	SourcePlatform Source = "platform"
)

// CheckResult is the outcome of validating one candidate.
type CheckResult struct {
	Candidate Candidate
	Source    Source
	Found     bool   // Executable exists
	Resolved  string // Absolute path after PATH lookup
	Version   string // First line of the --version output
	Err       error
}

// OK reports whether the candidate is usable.
func (r CheckResult) OK() bool {
	return r.Found && r.Err == nil
}

// Resolver finds an interpreter. The zero value is not usable; use New.
type Resolver struct {
	AgentDir    string
	OverrideEnv string // Environment variable holding an explicit interpreter
	GOOS        string
	Table       Table
	Executor    exec.CommandExecutor
	LookPath    func(file string) (string, error)
	Timeout     time.Duration
	Log         *slog.Logger
}

// New returns a Resolver for the agent in agentDir using the host platform
// table and the default executor.
func New(agentDir, overrideEnv string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		AgentDir:    agentDir,
		OverrideEnv: overrideEnv,
		GOOS:        runtime.GOOS,
		Table:       DefaultTable,
		Executor:    exec.GetDefaultExecutor(),
		LookPath:    osexec.LookPath,
		Timeout:     CheckTimeout,
		Log:         log,
	}
}

// Resolve returns the first working interpreter. The override variable,
// when set, is tried before the platform list. Nothing is cached: every
// call checks again.
func (r *Resolver) Resolve(ctx context.Context) (Candidate, bool) {
	if c, ok := r.override(); ok {
		res := r.check(ctx, c, SourceOverride)
		if res.OK() {
			r.Log.Debug("using interpreter override", "interpreter", c.String(), "version", res.Version)
			return c, true
		}
		r.Log.Warn("interpreter override rejected", "env", r.OverrideEnv, "interpreter", c.String(), "error", res.Err)
	}

	for _, c := range r.Table.Candidates(r.GOOS, r.AgentDir) {
		if ctx.Err() != nil {
			return Candidate{}, false
		}
		res := r.check(ctx, c, SourcePlatform)
		if res.OK() {
			r.Log.Debug("resolved interpreter", "interpreter", c.String(), "version", res.Version)
			return c, true
		}
		if res.Found {
			r.Log.Debug("interpreter candidate failed check", "interpreter", c.String(), "error", res.Err)
		}
	}
	return Candidate{}, false
}

// Check validates every candidate, including the override, and reports
// each outcome without stopping at the first success.
func (r *Resolver) Check(ctx context.Context) []CheckResult {
	var results []CheckResult
	if c, ok := r.override(); ok {
		results = append(results, r.check(ctx, c, SourceOverride))
	}
	for _, c := range r.Table.Candidates(r.GOOS, r.AgentDir) {
		results = append(results, r.check(ctx, c, SourcePlatform))
	}
	return results
}

func (r *Resolver) override() (Candidate, bool) {
	if r.OverrideEnv == "" {
		return Candidate{}, false
	}
	v := strings.TrimSpace(os.Getenv(r.OverrideEnv))
	if v == "" {
		return Candidate{}, false
	}
	return Candidate{Path: v}, true
}

func (r *Resolver) check(ctx context.Context, c Candidate, src Source) CheckResult {
	res := CheckResult{Candidate: c, Source: src}

	if strings.ContainsAny(c.Path, `/\`) {
		if _, err := os.Stat(c.Path); err != nil {
			res.Err = ErrMissing
			return res
		}
		res.Resolved = c.Path
	} else {
		path, err := r.LookPath(c.Path)
		if err != nil {
			res.Err = ErrMissing
			return res
		}
		res.Resolved = path
	}
	res.Found = true

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = CheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, c.Args...), "--version")
	stdout, stderr, err := r.Executor.Run(ctx, r.AgentDir, c.Path, args...)
	if err != nil {
		res.Err = fmt.Errorf("%s --version failed: %w", c, err)
		return res
	}
	// Python 2 printed its version on stderr.
	res.Version = firstLine(stdout)
	if res.Version == "" {
		res.Version = firstLine(stderr)
	}
	return res
}

func firstLine(b []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	line = strings.TrimSpace(line)
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return line
}

// FormatCheckResults renders check results for `agentshell doctor`.
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Interpreter candidates:\n")
	selected := false
	for _, r := range results {
		status := "○"
		switch {
		case r.OK() && !selected:
			status = "✓"
			selected = true
		case r.Found && r.Err != nil:
			status = "✗"
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Candidate)
		if r.Source == SourceOverride {
			sb.WriteString(" [override]")
		}
		switch {
		case r.OK() && r.Version != "":
			fmt.Fprintf(&sb, " (%s)", r.Version)
		case r.Found && r.Err != nil:
			fmt.Fprintf(&sb, " (%v)", r.Err)
		case !r.Found:
			sb.WriteString(" [not found]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
