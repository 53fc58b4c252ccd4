// Package shell wires the agent, window and IPC components into one
// running application.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhubert/agentshell/agent"
	"github.com/zhubert/agentshell/clock"
	"github.com/zhubert/agentshell/config"
	"github.com/zhubert/agentshell/exec"
	"github.com/zhubert/agentshell/interpreter"
	"github.com/zhubert/agentshell/ipc"
	"github.com/zhubert/agentshell/logger"
	"github.com/zhubert/agentshell/output"
	"github.com/zhubert/agentshell/paths"
	"github.com/zhubert/agentshell/process"
	"github.com/zhubert/agentshell/window"
)

// shutdownExtraWait is added to the stop grace when Shutdown waits for the
// agent to exit.
const shutdownExtraWait = 2 * time.Second

// Option configures an App.
type Option func(*App)

// WithResolver replaces the interpreter resolver.
func WithResolver(r agent.Resolver) Option {
	return func(a *App) { a.resolver = r }
}

// WithSpawner replaces the process spawner.
func WithSpawner(s agent.Spawner) Option {
	return func(a *App) { a.agentOpts = append(a.agentOpts, agent.WithSpawner(s)) }
}

// WithClock sets the clock used for agent and window timers.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithExecutor sets the executor used to inspect orphaned processes.
func WithExecutor(e exec.CommandExecutor) Option {
	return func(a *App) { a.executor = e }
}

// WithPIDFile overrides the agent pid file location. An empty path disables
// orphan tracking.
func WithPIDFile(path string) Option {
	return func(a *App) {
		a.pidFile = path
		a.pidFileSet = true
	}
}

// WithLogger sets the base logger. Components derive their loggers from it.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.base = log }
}

// App owns every long-lived component. Nothing is global: tests create as
// many Apps as they need.
type App struct {
	cfg       *config.Config
	base      *slog.Logger // components derive their loggers from it
	log       *slog.Logger
	clock     clock.Clock
	executor  exec.CommandExecutor
	resolver  agent.Resolver
	agentOpts []agent.Option

	pidFile    string
	pidFileSet bool

	bridge  *ipc.Bridge
	agent   *agent.Manager
	windows *window.Coordinator

	mu     sync.Mutex
	server *ipc.SocketServer

	shutdownOnce sync.Once
}

// New builds an App from cfg. Nothing is started until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.base == nil {
		a.base = logger.Get()
	}
	a.log = a.base.With("component", "shell")
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.executor == nil {
		a.executor = exec.GetDefaultExecutor()
	}
	if a.resolver == nil {
		a.resolver = interpreter.New(cfg.Agent.Dir, cfg.Agent.InterpreterEnv, a.base.With("component", "interpreter"))
	}
	if !a.pidFileSet {
		if dir, err := paths.StateDir(); err == nil {
			a.pidFile = filepath.Join(dir, "agent.pid")
		} else {
			a.log.Warn("no state dir, orphan cleanup disabled", "error", err)
		}
	}

	classifier, err := output.NewClassifier(cfg.Output.BenignPatterns...)
	if err != nil {
		return nil, err
	}

	a.bridge = ipc.NewBridge(a.base.With("component", "bridge"))

	a.agent = agent.NewManager(agent.Config{
		Dir:             cfg.Agent.Dir,
		Script:          cfg.ScriptPath(),
		Args:            cfg.Agent.Args,
		Env:             cfg.Agent.Env,
		StopGrace:       cfg.Agent.StopGrace,
		VoiceEndMarkers: cfg.Output.VoiceEndMarkers,
		PIDFile:         a.pidFile,
	}, a.resolver, agent.Callbacks{
		OnLine:  a.agentLine,
		OnStart: a.agentStarted,
		OnExit:  a.agentExited,
	}, a.base.With("component", "agent"),
		append([]agent.Option{agent.WithClock(a.clock), agent.WithClassifier(classifier)}, a.agentOpts...)...)

	factory := &window.VirtualFactory{
		Sizes: map[window.Kind]window.Size{
			window.Indicator:   {Width: cfg.Windows.Indicator.Width, Height: cfg.Windows.Indicator.Height},
			window.Interaction: {Width: cfg.Windows.Interaction.Width, Height: cfg.Windows.Interaction.Height},
		},
		OnChange: a.windowChanged,
	}
	a.windows = window.NewCoordinator(window.Config{
		Margin:         cfg.Windows.Margin,
		NudgeDelay:     cfg.Voice.NudgeDelay,
		AutoVoiceDelay: cfg.Voice.AutoStartDelay,
	}, factory, a.agent, a.clock, a.base.With("component", "windows"))

	a.registerHandlers()
	return a, nil
}

// Bridge returns the command/event bridge.
func (a *App) Bridge() *ipc.Bridge { return a.bridge }

// Agent returns the agent process manager.
func (a *App) Agent() *agent.Manager { return a.agent }

// Windows returns the window coordinator.
func (a *App) Windows() *window.Coordinator { return a.windows }

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Run serves UI surfaces until ctx is done, then shuts down. It removes an
// agent left over from a crashed run, opens the socket, shows the Indicator
// and, when configured, starts the agent.
func (a *App) Run(ctx context.Context) error {
	a.cleanupOrphan(ctx)

	server, err := ipc.NewSocketServer(a.cfg.SocketPath, a.bridge,
		ipc.WithServerLogger(a.base))
	if err != nil {
		return fmt.Errorf("failed to open IPC socket: %w", err)
	}
	a.mu.Lock()
	a.server = server
	a.mu.Unlock()
	server.Start()
	server.WaitReady()

	if err := a.windows.Start(); err != nil {
		a.Shutdown()
		return err
	}

	if a.cfg.Agent.AutoStart {
		if err := a.agent.Start(ctx); err != nil {
			a.log.Warn("agent autostart failed", "error", err)
		}
	}

	a.log.Info("shell running", "socket", a.cfg.SocketPath, "agentDir", a.cfg.Agent.Dir)
	<-ctx.Done()
	a.log.Info("shutdown requested", "reason", context.Cause(ctx))

	a.Shutdown()
	return nil
}

// Shutdown tells surfaces to release the microphone, removes the windows,
// stops the agent and closes the socket, in that order. Only the first call
// does anything.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.bridge.Broadcast(ipc.StopMicrophoneEvent())
		a.windows.Deactivate()

		if a.agent.IsRunning() {
			if err := a.agent.Stop(); err != nil && !errors.Is(err, agent.ErrNotRunning) {
				a.log.Warn("failed to stop agent", "error", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), a.stopGrace()+shutdownExtraWait)
			if err := a.agent.WaitExit(ctx); err != nil {
				a.log.Warn("agent did not exit before shutdown", "error", err)
			}
			cancel()
		}

		a.mu.Lock()
		server := a.server
		a.mu.Unlock()
		if server != nil {
			if err := server.Close(); err != nil {
				a.log.Warn("failed to close IPC socket", "error", err)
			}
		}
		a.log.Info("shell stopped")
	})
}

func (a *App) stopGrace() time.Duration {
	if a.cfg.Agent.StopGrace > 0 {
		return a.cfg.Agent.StopGrace
	}
	return agent.DefaultStopGrace
}

func (a *App) cleanupOrphan(ctx context.Context) {
	if a.pidFile == "" {
		return
	}
	pid, err := process.CleanupOrphan(ctx, a.executor, a.pidFile, a.cfg.ScriptPath(), a.base.With("component", "process"))
	if err != nil {
		a.log.Warn("orphan cleanup failed", "error", err)
		return
	}
	if pid != 0 {
		a.log.Info("removed orphaned agent from a previous run", "pid", pid)
	}
}

func (a *App) agentLine(line output.Line) {
	switch line.Class {
	case output.Content:
		a.bridge.Broadcast(ipc.OutputEvent(line.Text))
	case output.Error:
		a.bridge.Broadcast(ipc.ErrorEvent(line.Text))
	}
}

func (a *App) agentStarted(runID string, pid int) {
	a.windows.AgentStarted()
}

func (a *App) agentExited(exit agent.Exit) {
	a.bridge.Broadcast(ipc.ClosedEvent(exit.Code))
	a.windows.AgentExited(exit.Code)
}

func (a *App) windowChanged(state window.State) {
	a.bridge.Broadcast(ipc.WindowStateEvent(state))
}
