package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/agentshell/interpreter"
	"github.com/zhubert/agentshell/output"
	"github.com/zhubert/agentshell/process"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Script: "main.py"}, &fakeResolver{}, Callbacks{}, nil)

	if m.cfg.StopGrace != DefaultStopGrace {
		t.Errorf("StopGrace = %s, want %s", m.cfg.StopGrace, DefaultStopGrace)
	}
	if _, ok := m.spawner.(ExecSpawner); !ok {
		t.Errorf("default spawner = %T, want ExecSpawner", m.spawner)
	}
	st := m.Status()
	if st.State != NotStarted || st.Running || st.VoiceActive || st.ExitCode != nil {
		t.Errorf("initial status = %+v", st)
	}
}

func TestManager_StartTwiceSpawnsOnce(t *testing.T) {
	h := newTestHarness(t, Config{})

	for i := range 2 {
		if err := h.m.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
	}

	if n := h.spawner.count(); n != 1 {
		t.Errorf("spawned %d processes, want 1", n)
	}
	if h.resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", h.resolver.calls)
	}
	if st := h.m.Status(); st.State != Running || st.Pid != 1000 || st.RunID == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestManager_ConcurrentStartSpawnsOnce(t *testing.T) {
	h := newTestHarness(t, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.m.Start(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	}
	if n := h.spawner.count(); n != 1 {
		t.Errorf("spawned %d processes, want 1", n)
	}
}

func TestManager_StartInterpreterNotFound(t *testing.T) {
	h := newTestHarness(t, Config{})
	h.resolver.ok = false

	err := h.m.Start(context.Background())
	if !errors.Is(err, ErrInterpreterNotFound) {
		t.Fatalf("Start error = %v, want ErrInterpreterNotFound", err)
	}
	if h.spawner.count() != 0 {
		t.Error("nothing should be spawned without an interpreter")
	}
	if st := h.m.Status(); st.State != NotStarted {
		t.Errorf("state = %s, want not-started", st.State)
	}
}

func TestManager_StartSpawnFailed(t *testing.T) {
	h := newTestHarness(t, Config{})
	h.spawner.err = errors.New("exec: permission denied")

	err := h.m.Start(context.Background())
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("Start error = %v, want ErrSpawnFailed", err)
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("error should carry the cause: %v", err)
	}
	if st := h.m.Status(); st.State != NotStarted {
		t.Errorf("state = %s, want not-started", st.State)
	}

	// The failure is reported like an abnormal exit so listeners see the
	// agent close even though it never ran.
	select {
	case e := <-h.rec.exits:
		if e.Code != AbnormalExitCode {
			t.Errorf("exit code = %d, want %d", e.Code, AbnormalExitCode)
		}
		if !errors.Is(e.Err, ErrSpawnFailed) {
			t.Errorf("exit error = %v, want ErrSpawnFailed", e.Err)
		}
		if e.RunID != "" {
			t.Errorf("exit runID = %q, want empty", e.RunID)
		}
	default:
		t.Fatal("spawn failure should emit an exit event before Start returns")
	}
	select {
	case <-h.rec.starts:
		t.Error("spawn failure should not emit a start event")
	default:
	}
}

func TestManager_SpawnSpec(t *testing.T) {
	h := newTestHarness(t, Config{
		Dir:    "/agents/voice",
		Script: "main.py",
		Args:   []string{"--quiet"},
		Env:    map[string]string{"CORAL_AGENT_ID": "shell", "A_FIRST": "1"},
	})
	h.resolver.candidate = interpreter.Candidate{Path: "py", Args: []string{"-3"}}
	h.start(t)

	spec := h.spawner.specs[0]
	if spec.Path != "py" {
		t.Errorf("Path = %q, want py", spec.Path)
	}
	if want := []string{"-3", "/agents/voice/main.py", "--quiet"}; !slices.Equal(spec.Args, want) {
		t.Errorf("Args = %v, want %v", spec.Args, want)
	}
	if spec.Dir != "/agents/voice" {
		t.Errorf("Dir = %q", spec.Dir)
	}
	if want := []string{"A_FIRST=1", "CORAL_AGENT_ID=shell", "PYTHONUNBUFFERED=1"}; !slices.Equal(spec.Env, want) {
		t.Errorf("Env = %v, want %v", spec.Env, want)
	}
}

func TestManager_SpawnSpecScriptPath(t *testing.T) {
	tests := []struct {
		name   string
		dir    string
		script string
		want   string
	}{
		{"relative joined with dir", "/agents/voice", "main.py", "/agents/voice/main.py"},
		{"nested relative", "/agents/voice", "src/main.py", "/agents/voice/src/main.py"},
		{"absolute kept", "/agents/voice", "/opt/agent/main.py", "/opt/agent/main.py"},
		{"no dir", "", "main.py", "main.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(t, Config{Dir: tt.dir, Script: tt.script})
			h.start(t)

			args := h.spawner.specs[0].Args
			if got := args[len(args)-1]; got != tt.want {
				t.Errorf("script arg = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManager_OnStart(t *testing.T) {
	h := newTestHarness(t, Config{})
	h.start(t)

	select {
	case runID := <-h.rec.starts:
		if runID != h.m.Status().RunID {
			t.Errorf("OnStart runID = %q, status runID = %q", runID, h.m.Status().RunID)
		}
	default:
		t.Fatal("OnStart should be called before Start returns")
	}
}

func TestManager_SendMessage(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)

	if err := h.m.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := h.m.Nudge(); err != nil {
		t.Fatalf("Nudge: %v", err)
	}
	if got := p.stdin.String(); got != "hello\n\n" {
		t.Errorf("stdin = %q, want %q", got, "hello\n\n")
	}
}

func TestManager_NotRunning(t *testing.T) {
	h := newTestHarness(t, Config{})

	ops := map[string]func() error{
		"Stop":           h.m.Stop,
		"SendMessage":    func() error { return h.m.SendMessage("hi") },
		"Nudge":          h.m.Nudge,
		"StartVoiceMode": h.m.StartVoiceMode,
		"StopVoiceMode":  h.m.StopVoiceMode,
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrNotRunning) {
			t.Errorf("%s error = %v, want ErrNotRunning", name, err)
		}
	}
}

func TestManager_WriteFailed(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)
	p.stdin.Close()

	if err := h.m.SendMessage("hello"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendMessage error = %v, want ErrWriteFailed", err)
	}
	if err := h.m.StartVoiceMode(); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("StartVoiceMode error = %v, want ErrWriteFailed", err)
	}
	if h.m.VoiceActive() {
		t.Error("failed voice start must leave voice inactive")
	}
}

func TestManager_StopEscalatesOnce(t *testing.T) {
	h := newTestHarness(t, Config{StopGrace: 1500 * time.Millisecond})
	p := h.start(t)

	if err := h.m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.sentSignals(); !slices.Equal(got, []process.Signal{process.Terminate}) {
		t.Fatalf("signals after Stop = %v, want [terminate]", got)
	}
	if !h.m.IsRunning() {
		t.Error("agent should still look running until it exits")
	}
	if err := h.m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop error = %v, want ErrNotRunning", err)
	}
	if err := h.m.SendMessage("late"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendMessage while stopping = %v, want ErrNotRunning", err)
	}
	if err := h.m.Start(context.Background()); err != nil || h.spawner.count() != 1 {
		t.Errorf("Start while stopping should be a no-op success, got %v with %d spawns", err, h.spawner.count())
	}

	h.clock.Advance(1499 * time.Millisecond)
	if got := p.sentSignals(); len(got) != 1 {
		t.Fatalf("kill sent before grace elapsed: %v", got)
	}

	h.clock.Advance(time.Millisecond)
	h.clock.Advance(10 * time.Second)
	want := []process.Signal{process.Terminate, process.Kill}
	if got := p.sentSignals(); !slices.Equal(got, want) {
		t.Fatalf("signals = %v, want %v", got, want)
	}

	p.exit(AbnormalExitCode)
	exit := h.rec.waitExit(t)
	if exit.Code != AbnormalExitCode {
		t.Errorf("exit code = %d, want %d", exit.Code, AbnormalExitCode)
	}
	if st := h.m.Status(); st.State != Exited || st.Running {
		t.Errorf("status after exit = %+v", st)
	}
}

func TestManager_StopNoKillAfterEarlyExit(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)

	if err := h.m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	p.exit(0)
	h.rec.waitExit(t)

	if n := h.clock.PendingCount(); n != 0 {
		t.Errorf("kill timer still pending after exit (%d timers)", n)
	}
	h.clock.Advance(time.Minute)
	if got := p.sentSignals(); !slices.Equal(got, []process.Signal{process.Terminate}) {
		t.Errorf("signals = %v, want only terminate", got)
	}
}

func TestManager_VoiceModeSequence(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)

	for range 2 {
		if err := h.m.StartVoiceMode(); err != nil {
			t.Fatalf("StartVoiceMode: %v", err)
		}
	}
	if !h.m.VoiceActive() {
		t.Fatal("voice should be active")
	}
	for range 2 {
		if err := h.m.StopVoiceMode(); err != nil {
			t.Fatalf("StopVoiceMode: %v", err)
		}
	}

	if got := p.stdin.String(); got != "v\n" {
		t.Errorf("stdin = %q, want exactly one voice request", got)
	}
	if got := p.sentSignals(); !slices.Equal(got, []process.Signal{process.Interrupt}) {
		t.Errorf("signals = %v, want exactly one interrupt", got)
	}
	if h.m.VoiceActive() {
		t.Error("voice should end inactive")
	}
}

func TestManager_StopVoiceInterruptFails(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)
	p.failSignal(process.Interrupt, process.ErrUnsupported)

	if err := h.m.StartVoiceMode(); err != nil {
		t.Fatalf("StartVoiceMode: %v", err)
	}
	err := h.m.StopVoiceMode()
	if !errors.Is(err, process.ErrUnsupported) {
		t.Fatalf("StopVoiceMode error = %v, want ErrUnsupported", err)
	}
	if !h.m.VoiceActive() {
		t.Error("voice stays active when the interrupt was not delivered")
	}
}

func TestManager_VoiceResetOnExit(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)

	if err := h.m.StartVoiceMode(); err != nil {
		t.Fatalf("StartVoiceMode: %v", err)
	}
	p.exit(1)
	exit := h.rec.waitExit(t)

	if exit.Code != 1 {
		t.Errorf("exit code = %d, want 1", exit.Code)
	}
	st := h.m.Status()
	if st.VoiceActive {
		t.Error("voice must be inactive after exit")
	}
	if st.ExitCode == nil || *st.ExitCode != 1 {
		t.Errorf("status exit code = %v, want 1", st.ExitCode)
	}
	if st.Pid != 0 {
		t.Errorf("pid should be cleared after exit, got %d", st.Pid)
	}
}

func TestManager_VoiceEndMarker(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)

	if err := h.m.StartVoiceMode(); err != nil {
		t.Fatalf("StartVoiceMode: %v", err)
	}
	p.writeStdout("Voice session timed out after 2 minutes.\n")
	h.rec.waitLine(t)
	if !h.m.VoiceActive() {
		t.Fatal("unrelated output should not end voice mode")
	}

	p.writeStdout("Enter your query (or 'v' for voice, 'quit' to exit): Returning to text mode.\n")
	line := h.rec.waitLine(t)
	if line.Class != output.Content {
		t.Errorf("marker line class = %s, want content", line.Class)
	}
	if h.m.VoiceActive() {
		t.Error("voice-end marker should reset voice mode")
	}
}

func TestManager_OutputLines(t *testing.T) {
	h := newTestHarness(t, Config{})
	p := h.start(t)

	p.writeStderr("INFO:utils.coral_agent:connect")
	p.writeStderr("ed\nRuntimeError: no microphone\n")
	p.writeStdout("Agent: hi")
	p.writeStdout(" there\npartial")
	p.exit(0)
	h.rec.waitExit(t)

	close(h.rec.lines)
	var stdout, stderr []output.Line
	for l := range h.rec.lines {
		if l.Source == output.Stdout {
			stdout = append(stdout, l)
		} else {
			stderr = append(stderr, l)
		}
	}

	wantStdout := []output.Line{
		{Source: output.Stdout, Text: "Agent: hi there", Class: output.Content},
		{Source: output.Stdout, Text: "partial", Class: output.Content},
	}
	wantStderr := []output.Line{
		{Source: output.Stderr, Text: "INFO:utils.coral_agent:connected", Class: output.Suppressed},
		{Source: output.Stderr, Text: "RuntimeError: no microphone", Class: output.Error},
	}
	if !slices.Equal(stdout, wantStdout) {
		t.Errorf("stdout lines = %+v, want %+v", stdout, wantStdout)
	}
	if !slices.Equal(stderr, wantStderr) {
		t.Errorf("stderr lines = %+v, want %+v", stderr, wantStderr)
	}
}

func TestManager_ExitWithOutputHeldOpen(t *testing.T) {
	h := newTestHarness(t, Config{})
	h.m.drainTimeout = 20 * time.Millisecond
	p := h.start(t)

	p.writeStdout("Agent: bye\n")
	if l := h.rec.waitLine(t); l.Text != "Agent: bye" {
		t.Fatalf("line = %q, want Agent: bye", l.Text)
	}

	// A descendant keeps both streams open after the agent exits.
	p.exitLeavingOutput(3)
	exit := h.rec.waitExit(t)
	if exit.Code != 3 {
		t.Errorf("exit code = %d, want 3", exit.Code)
	}
	if st := h.m.Status(); st.State != Exited {
		t.Errorf("state = %s, want exited", st.State)
	}

	// The next run starts normally.
	h.start(t)
	if st := h.m.Status(); st.State != Running {
		t.Errorf("state after restart = %s, want running", st.State)
	}
}

func TestManager_RestartAfterExit(t *testing.T) {
	h := newTestHarness(t, Config{})
	first := h.start(t)
	firstRun := h.m.Status().RunID

	first.exit(0)
	exit := h.rec.waitExit(t)
	if exit.RunID != firstRun {
		t.Errorf("exit runID = %q, want %q", exit.RunID, firstRun)
	}

	second := h.start(t)
	if first == second || h.spawner.count() != 2 {
		t.Fatal("Start after exit should spawn a new process")
	}
	st := h.m.Status()
	if st.State != Running || st.RunID == firstRun || st.ExitCode != nil {
		t.Errorf("status after restart = %+v", st)
	}
	if h.resolver.calls != 2 {
		t.Errorf("resolver calls = %d, want one per start", h.resolver.calls)
	}
}

func TestManager_WaitExit(t *testing.T) {
	h := newTestHarness(t, Config{})

	if err := h.m.WaitExit(context.Background()); err != nil {
		t.Fatalf("WaitExit without a process: %v", err)
	}

	p := h.start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.m.WaitExit(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitExit on running agent = %v, want deadline exceeded", err)
	}

	go p.exit(0)
	ctx2, cancel2 := context.WithTimeout(context.Background(), testTimeout)
	defer cancel2()
	if err := h.m.WaitExit(ctx2); err != nil {
		t.Errorf("WaitExit: %v", err)
	}
}

func TestManager_PIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "agent.pid")
	h := newTestHarness(t, Config{PIDFile: pidFile})
	p := h.start(t)

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pid file not written: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(p.Pid()) {
		t.Errorf("pid file = %q, want %d", data, p.Pid())
	}

	p.exit(0)
	h.rec.waitExit(t)
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("pid file should be removed on exit")
	}
}

func TestState_Text(t *testing.T) {
	for _, s := range []State{NotStarted, Running, Stopping, Exited} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back State
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("round trip of %s gave %s, %v", s, back, err)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("zombie")); err == nil {
		t.Error("unknown state name should fail")
	}
	if !Stopping.IsRunning() || Exited.IsRunning() {
		t.Error("IsRunning mismatch")
	}
}
