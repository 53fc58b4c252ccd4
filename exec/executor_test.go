package exec

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
)

func TestRealExecutor_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo is a shell builtin on windows")
	}
	executor := NewRealExecutor()

	stdout, stderr, err := executor.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}
}

func TestRealExecutor_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	executor := NewRealExecutor()

	_, _, err := executor.Run(context.Background(), "", "sh", "-c", "exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestRealExecutor_MissingBinary(t *testing.T) {
	executor := NewRealExecutor()

	_, err := executor.Output(context.Background(), "", "definitely-not-a-real-binary-agentshell")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestMockExecutor_Run(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddExactMatch("python3", []string{"--version"}, MockResponse{
		Stdout: []byte("Python 3.12.1"),
	})

	stdout, stderr, err := mock.Run(context.Background(), "/agent", "python3", "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "Python 3.12.1" {
		t.Errorf("expected 'Python 3.12.1', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Dir != "/agent" || calls[0].Name != "python3" {
		t.Errorf("unexpected call %+v", calls[0])
	}
}

func TestMockExecutor_Error(t *testing.T) {
	mock := NewMockExecutor(nil)

	expectedErr := errors.New("exit status 1")
	mock.AddNameMatch("python", MockResponse{
		Stderr: []byte("not python 3"),
		Err:    expectedErr,
	})

	_, stderr, err := mock.Run(context.Background(), "", "python", "--version")
	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if string(stderr) != "not python 3" {
		t.Errorf("expected 'not python 3', got %q", string(stderr))
	}
}

func TestMockExecutor_Output(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("py", []string{"-3", "--version"}, MockResponse{
		Stdout: []byte("Python 3.11.4"),
	})

	output, err := mock.Output(context.Background(), "", "py", "-3", "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "Python 3.11.4" {
		t.Errorf("expected 'Python 3.11.4', got %q", string(output))
	}
}

func TestMockExecutor_Fallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo is a shell builtin on windows")
	}
	mock := NewMockExecutor(NewRealExecutor())
	mock.AddNameMatch("python3", MockResponse{Stdout: []byte("mocked")})

	stdout, _, err := mock.Run(context.Background(), "", "python3", "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "mocked" {
		t.Errorf("expected 'mocked', got %q", string(stdout))
	}

	stdout, _, err = mock.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
}

func TestMockExecutor_RuleOrder(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddExactMatch("python3", []string{"--version"}, MockResponse{Stdout: []byte("specific")})
	mock.AddNameMatch("python3", MockResponse{Stdout: []byte("general")})

	stdout, _, _ := mock.Run(context.Background(), "", "python3", "--version")
	if string(stdout) != "specific" {
		t.Errorf("expected 'specific', got %q", string(stdout))
	}

	stdout, _, _ = mock.Run(context.Background(), "", "python3", "-V")
	if string(stdout) != "general" {
		t.Errorf("expected 'general', got %q", string(stdout))
	}
}

func TestMockExecutor_GetCallsClearCalls(t *testing.T) {
	mock := NewMockExecutor(nil)
	ctx := context.Background()

	mock.Run(ctx, "/dir1", "cmd1", "arg1")
	mock.Output(ctx, "/dir2", "cmd2", "arg2")

	if calls := mock.GetCalls(); len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}

	mock.ClearCalls()

	if calls := mock.GetCalls(); len(calls) != 0 {
		t.Errorf("expected 0 calls after clear, got %d", len(calls))
	}
}

func TestDefaultExecutor(t *testing.T) {
	if _, ok := GetDefaultExecutor().(*RealExecutor); !ok {
		t.Errorf("DefaultExecutor should be *RealExecutor, got %T", GetDefaultExecutor())
	}

	mock := NewMockExecutor(nil)
	original := GetDefaultExecutor()
	defer SetDefaultExecutor(original)

	SetDefaultExecutor(mock)
	if GetDefaultExecutor() != mock {
		t.Error("SetDefaultExecutor did not set the executor")
	}
}

func TestDefaultExecutorConcurrentAccess(t *testing.T) {
	original := GetDefaultExecutor()
	defer SetDefaultExecutor(original)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetDefaultExecutor(NewMockExecutor(nil))
		}()
		go func() {
			defer wg.Done()
			_ = GetDefaultExecutor()
		}()
	}
	wg.Wait()
}
