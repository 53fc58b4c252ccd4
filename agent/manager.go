// Package agent supervises the single external agent process: start, stop,
// message delivery, voice-mode signalling, and exit reporting.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/agentshell/clock"
	"github.com/zhubert/agentshell/interpreter"
	"github.com/zhubert/agentshell/output"
	"github.com/zhubert/agentshell/process"
)

// DefaultStopGrace is the time between the terminate and kill signals.
const DefaultStopGrace = 1500 * time.Millisecond

// voiceStart is the control line that switches the agent into voice mode.
const voiceStart = "v\n"

// readBufferSize is the chunk size for output stream reads.
const readBufferSize = 4096

// outputDrainTimeout bounds how long the exit monitor waits for the output
// streams once the process has exited. A descendant that inherited the
// pipes can hold them open indefinitely.
const outputDrainTimeout = 2 * time.Second

// Resolver finds the interpreter used to launch the agent.
type Resolver interface {
	Resolve(ctx context.Context) (interpreter.Candidate, bool)
}

// Config describes the agent command.
type Config struct {
	Dir    string            // Agent project root and working directory
	Script string            // Entry script, resolved against Dir when relative
	Args   []string          // Extra script arguments
	Env    map[string]string // Extra environment

	StopGrace time.Duration

	// VoiceEndMarkers are stdout substrings the agent prints when a voice
	// session ends on its own.
	VoiceEndMarkers []string

	// PIDFile, when set, records the running agent's pid for orphan cleanup.
	PIDFile string
}

// Exit is reported once per run when the process exits.
type Exit struct {
	RunID string
	Code  int // AbnormalExitCode when killed by a signal
	Err   error
}

// Callbacks receive process events. They run on the manager's goroutines
// and must be safe for concurrent use: stdout and stderr lines arrive from
// different goroutines.
type Callbacks struct {
	OnLine  func(line output.Line)
	OnStart func(runID string, pid int)
	OnExit  func(exit Exit)
}

// Option configures a Manager.
type Option func(*Manager)

// WithSpawner replaces the os/exec spawner.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithClassifier replaces the default output classifier.
func WithClassifier(c *output.Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// Manager owns the agent process. At most one process is running at a time.
type Manager struct {
	cfg        Config
	resolver   Resolver
	spawner    Spawner
	classifier *output.Classifier
	clock      clock.Clock
	callbacks  Callbacks
	log        *slog.Logger

	drainTimeout time.Duration

	// startMu serializes Start so that resolution and spawn happen once
	// even when two start requests race.
	startMu sync.Mutex

	// ctlMu serializes writes and voice signals.
	ctlMu sync.Mutex

	// Run state (protected by mu)
	mu        sync.Mutex
	state     State
	voice     bool
	proc      Process
	stdin     io.WriteCloser // nil once Stop detaches the handle
	runID     string
	pid       int
	exitCode  int
	exited    chan struct{} // closed when the current run exits
	killTimer *clock.Timer
}

// NewManager returns a Manager for cfg.
func NewManager(cfg Config, resolver Resolver, callbacks Callbacks, log *slog.Logger, opts ...Option) *Manager {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:       cfg,
		resolver:  resolver,
		spawner:   ExecSpawner{},
		clock:     clock.Real(),
		callbacks: callbacks,
		log:       log,
		state:     NotStarted,

		drainTimeout: outputDrainTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.classifier == nil {
		m.classifier = output.DefaultClassifier()
	}
	return m
}

// Start launches the agent. It is a no-op success while a process is
// running or stopping. The interpreter is resolved on every attempt.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.IsRunning() {
		m.log.Debug("start requested but agent already running")
		return nil
	}

	interp, ok := m.resolver.Resolve(ctx)
	if !ok {
		m.log.Warn("no interpreter found for agent", "dir", m.cfg.Dir)
		return ErrInterpreterNotFound
	}

	spec := m.spawnSpec(interp)
	startTime := time.Now()
	proc, err := m.spawner.Spawn(spec)
	if err != nil {
		m.log.Error("failed to spawn agent", "interpreter", interp.String(), "error", err)
		err = fmt.Errorf("%w: %v", ErrSpawnFailed, err)
		if m.callbacks.OnExit != nil {
			m.callbacks.OnExit(Exit{Code: AbnormalExitCode, Err: err})
		}
		return err
	}

	runID := uuid.New().String()
	exited := make(chan struct{})

	m.mu.Lock()
	m.state = Running
	m.voice = false
	m.proc = proc
	m.stdin = proc.Stdin()
	m.runID = runID
	m.pid = proc.Pid()
	m.exitCode = 0
	m.exited = exited
	m.killTimer = nil
	m.mu.Unlock()

	log := m.log.With("runID", runID)
	log.Info("agent started", "pid", proc.Pid(), "interpreter", interp.String(), "elapsed", time.Since(startTime))

	if m.cfg.PIDFile != "" {
		if err := process.WritePIDFile(m.cfg.PIDFile, proc.Pid()); err != nil {
			log.Warn("failed to write pid file", "path", m.cfg.PIDFile, "error", err)
		}
	}

	if m.callbacks.OnStart != nil {
		m.callbacks.OnStart(runID, proc.Pid())
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go m.readStream(proc.Stdout(), output.Stdout, runID, &readers, log)
	go m.readStream(proc.Stderr(), output.Stderr, runID, &readers, log)
	go m.monitorExit(proc, runID, exited, &readers, log)

	return nil
}

func (m *Manager) spawnSpec(interp interpreter.Candidate) SpawnSpec {
	args := slices.Clone(interp.Args)
	args = append(args, m.scriptPath())
	args = append(args, m.cfg.Args...)

	var env []string
	for _, k := range slices.Sorted(maps.Keys(m.cfg.Env)) {
		env = append(env, k+"="+m.cfg.Env[k])
	}
	env = append(env, "PYTHONUNBUFFERED=1")

	return SpawnSpec{Path: interp.Path, Args: args, Dir: m.cfg.Dir, Env: env}
}

// scriptPath is the script argument. It is absolute whenever Dir is set so
// that the process command line identifies the agent for orphan cleanup.
func (m *Manager) scriptPath() string {
	if m.cfg.Dir == "" || filepath.IsAbs(m.cfg.Script) {
		return m.cfg.Script
	}
	return filepath.Join(m.cfg.Dir, m.cfg.Script)
}

// Stop sends the terminate signal and returns without waiting. If the
// process is still alive after the grace period it is killed. Stop fails
// with ErrNotRunning unless the agent is running; a second Stop while the
// first is pending fails the same way, so the kill is sent at most once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return ErrNotRunning
	}

	m.state = Stopping
	m.stdin = nil
	proc := m.proc
	runID := m.runID
	m.killTimer = m.clock.AfterFunc(m.cfg.StopGrace, func() { m.forceKill(runID) })
	m.mu.Unlock()

	log := m.log.With("runID", runID)
	log.Info("stopping agent", "grace", m.cfg.StopGrace)
	if err := proc.Signal(process.Terminate); err != nil {
		// The process may already be gone; the exit monitor reports it.
		log.Debug("terminate signal failed", "error", err)
	}
	return nil
}

// forceKill runs when the stop grace period ends.
func (m *Manager) forceKill(runID string) {
	m.mu.Lock()
	if m.runID != runID || m.state != Stopping {
		m.mu.Unlock()
		return
	}
	proc := m.proc
	m.killTimer = nil
	m.mu.Unlock()

	log := m.log.With("runID", runID)
	log.Warn("agent did not exit within grace period, killing", "grace", m.cfg.StopGrace)
	if err := proc.Signal(process.Kill); err != nil {
		log.Error("kill signal failed", "error", err)
	}
}

// SendMessage writes text and a line terminator to the agent's input.
func (m *Manager) SendMessage(text string) error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	stdin, _, err := m.runningInput()
	if err != nil {
		return err
	}
	return write(stdin, text+"\n")
}

// Nudge writes a blank line to bring the agent back to its prompt.
func (m *Manager) Nudge() error {
	return m.SendMessage("")
}

// StartVoiceMode asks the agent to start a voice session. It is a no-op if
// voice mode is already active.
func (m *Manager) StartVoiceMode() error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	stdin, runID, err := m.runningInput()
	if err != nil {
		return err
	}
	if m.VoiceActive() {
		return nil
	}

	if err := write(stdin, voiceStart); err != nil {
		return err
	}

	m.mu.Lock()
	if m.runID == runID && m.state == Running {
		m.voice = true
	}
	m.mu.Unlock()

	m.log.Info("voice mode started", "runID", runID)
	return nil
}

// StopVoiceMode interrupts the agent's voice session. It is a no-op if
// voice mode is inactive. The interrupt is not escalated.
func (m *Manager) StopVoiceMode() error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if !m.voice {
		m.mu.Unlock()
		return nil
	}
	proc := m.proc
	runID := m.runID
	m.mu.Unlock()

	if err := proc.Signal(process.Interrupt); err != nil {
		m.log.Warn("failed to interrupt voice session", "runID", runID, "error", err)
		return fmt.Errorf("failed to interrupt voice session: %w", err)
	}

	m.mu.Lock()
	if m.runID == runID {
		m.voice = false
	}
	m.mu.Unlock()

	m.log.Info("voice mode stopped", "runID", runID)
	return nil
}

// runningInput returns the input stream of a running agent.
func (m *Manager) runningInput() (io.WriteCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return nil, "", ErrNotRunning
	}
	return m.stdin, m.runID, nil
}

func write(w io.Writer, s string) error {
	if w == nil {
		return fmt.Errorf("%w: input stream closed", ErrWriteFailed)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// IsRunning reports whether a process exists, including one that is
// stopping.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsRunning()
}

// VoiceActive reports whether voice mode is active.
func (m *Manager) VoiceActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voice
}

// Status returns a snapshot of the manager state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:       m.state,
		Running:     m.state.IsRunning(),
		VoiceActive: m.voice,
		RunID:       m.runID,
	}
	if m.state.IsRunning() {
		s.Pid = m.pid
	}
	if m.state == Exited {
		code := m.exitCode
		s.ExitCode = &code
	}
	return s
}

// WaitExit blocks until the current run exits or ctx is done. It returns
// immediately when no process is running.
func (m *Manager) WaitExit(ctx context.Context) error {
	m.mu.Lock()
	exited := m.exited
	running := m.state.IsRunning()
	m.mu.Unlock()

	if !running || exited == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readStream feeds one output stream through the classifier until EOF.
func (m *Manager) readStream(r io.Reader, source output.Source, runID string, wg *sync.WaitGroup, log *slog.Logger) {
	defer wg.Done()

	stream := output.NewStream(source, m.classifier)
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range stream.Feed(buf[:n]) {
				m.deliver(runID, line, log)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Debug("error reading agent output", "stream", source.String(), "error", err)
			}
			break
		}
	}

	for _, line := range stream.Flush() {
		m.deliver(runID, line, log)
	}
}

func (m *Manager) deliver(runID string, line output.Line, log *slog.Logger) {
	switch line.Class {
	case output.Suppressed:
		log.Debug("agent stderr (suppressed)", "line", line.Text)
	case output.Error:
		log.Warn("agent stderr", "line", line.Text)
	case output.Content:
		if m.isVoiceEnd(line.Text) {
			m.mu.Lock()
			if m.runID == runID && m.voice {
				m.voice = false
				log.Info("agent ended voice session")
			}
			m.mu.Unlock()
		}
	}

	if m.callbacks.OnLine != nil {
		m.callbacks.OnLine(line)
	}
}

func (m *Manager) isVoiceEnd(text string) bool {
	for _, marker := range m.cfg.VoiceEndMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// monitorExit is the only caller of proc.Wait. After the process exits it
// waits for both readers so that every line is delivered before the exit
// event. Readers still blocked after outputDrainTimeout have their streams
// closed.
func (m *Manager) monitorExit(proc Process, runID string, exited chan struct{}, readers *sync.WaitGroup, log *slog.Logger) {
	code, err := proc.Wait()
	if stdin := proc.Stdin(); stdin != nil {
		stdin.Close()
	}

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(m.drainTimeout):
		log.Warn("agent output still open after exit, closing", "timeout", m.drainTimeout)
		proc.Stdout().Close()
		proc.Stderr().Close()
		<-drained
	}

	m.mu.Lock()
	wasStopping := m.state == Stopping
	m.state = Exited
	m.voice = false
	m.proc = nil
	m.stdin = nil
	m.exitCode = code
	timer := m.killTimer
	m.killTimer = nil
	m.mu.Unlock()

	timer.Stop()
	close(exited)

	if m.cfg.PIDFile != "" {
		process.RemovePIDFile(m.cfg.PIDFile)
	}

	if wasStopping || code == 0 {
		log.Info("agent exited", "code", code, "requested", wasStopping)
	} else {
		log.Warn("agent exited unexpectedly", "code", code, "error", err)
	}

	if m.callbacks.OnExit != nil {
		m.callbacks.OnExit(Exit{RunID: runID, Code: code, Err: err})
	}
}
