package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/agentshell/clock"
	"github.com/zhubert/agentshell/interpreter"
	"github.com/zhubert/agentshell/output"
	"github.com/zhubert/agentshell/process"
)

const testTimeout = 5 * time.Second

func pmTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingInput is a synchronous stdin that records every write.
type recordingInput struct {
	mu     sync.Mutex
	buf    strings.Builder
	closed bool
}

func (w *recordingInput) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *recordingInput) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingInput) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// fakeProcess is an in-memory agent driven by the test.
type fakeProcess struct {
	pid     int
	stdin   *recordingInput
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu         sync.Mutex
	signals    []process.Signal
	signalErrs map[process.Signal]error

	exitCh   chan int
	exitOnce sync.Once
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{
		pid:        pid,
		stdin:      &recordingInput{},
		signalErrs: map[process.Signal]error{},
		exitCh:     make(chan int, 1),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }
func (p *fakeProcess) Pid() int              { return p.pid }

func (p *fakeProcess) Signal(sig process.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return p.signalErrs[sig]
}

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exitCh, nil
}

func (p *fakeProcess) failSignal(sig process.Signal, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signalErrs[sig] = err
}

func (p *fakeProcess) sentSignals() []process.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]process.Signal(nil), p.signals...)
}

func (p *fakeProcess) writeStdout(s string) { p.stdoutW.Write([]byte(s)) }
func (p *fakeProcess) writeStderr(s string) { p.stderrW.Write([]byte(s)) }

// exit closes the output streams and lets Wait return code.
func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.exitCh <- code
	})
}

// exitLeavingOutput lets Wait return code while the output streams stay
// open, as when a descendant inherited them.
func (p *fakeProcess) exitLeavingOutput(code int) {
	p.exitOnce.Do(func() {
		p.exitCh <- code
	})
}

type fakeSpawner struct {
	t     *testing.T
	mu    sync.Mutex
	specs []SpawnSpec
	procs []*fakeProcess
	err   error
}

func (s *fakeSpawner) Spawn(spec SpawnSpec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(1000 + len(s.procs))
	s.specs = append(s.specs, spec)
	s.procs = append(s.procs, p)
	s.t.Cleanup(func() { p.exit(0) })
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

type fakeResolver struct {
	mu        sync.Mutex
	candidate interpreter.Candidate
	ok        bool
	calls     int
}

func (r *fakeResolver) Resolve(ctx context.Context) (interpreter.Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.candidate, r.ok
}

// recorder collects manager callbacks on channels.
type recorder struct {
	lines  chan output.Line
	starts chan string
	exits  chan Exit
}

func newRecorder() *recorder {
	return &recorder{
		lines:  make(chan output.Line, 100),
		starts: make(chan string, 10),
		exits:  make(chan Exit, 10),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnLine:  func(l output.Line) { r.lines <- l },
		OnStart: func(runID string, pid int) { r.starts <- runID },
		OnExit:  func(e Exit) { r.exits <- e },
	}
}

func (r *recorder) waitLine(t *testing.T) output.Line {
	t.Helper()
	select {
	case l := <-r.lines:
		return l
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for output line")
		return output.Line{}
	}
}

func (r *recorder) waitExit(t *testing.T) Exit {
	t.Helper()
	select {
	case e := <-r.exits:
		return e
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for exit")
		return Exit{}
	}
}

type testHarness struct {
	m        *Manager
	spawner  *fakeSpawner
	resolver *fakeResolver
	clock    *clock.FakeClock
	rec      *recorder
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	if cfg.Script == "" {
		cfg.Script = "main.py"
	}
	if cfg.VoiceEndMarkers == nil {
		cfg.VoiceEndMarkers = []string{"Returning to text mode."}
	}
	h := &testHarness{
		spawner:  &fakeSpawner{t: t},
		resolver: &fakeResolver{candidate: interpreter.Candidate{Path: "python3"}, ok: true},
		clock:    clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		rec:      newRecorder(),
	}
	h.m = NewManager(cfg, h.resolver, h.rec.callbacks(), pmTestLogger(),
		WithSpawner(h.spawner), WithClock(h.clock))
	return h
}

// start starts the agent and returns its fake process.
func (h *testHarness) start(t *testing.T) *fakeProcess {
	t.Helper()
	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h.spawner.last()
}
