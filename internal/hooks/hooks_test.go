package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRunner struct {
	calls []Command
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	f.calls = append(f.calls, cmd)
	return []byte("out"), f.err
}

func TestRunPreToolUseSkippedWhenUnconfigured(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	r := NewRunner(Config{}, fr)

	if err := r.RunPreToolUse(context.Background(), PreToolUseEnv{Tool: "read_file"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("expected no command execution, got %d", len(fr.calls))
	}
}

func TestRunPreToolUseInvokesConfiguredCommand(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	r := NewRunner(Config{Commands: map[Event]string{PreToolUse: "echo hi"}, Timeout: time.Second}, fr)

	if err := r.RunPreToolUse(context.Background(), PreToolUseEnv{Tool: "read_file", Agent: "code", Args: "{}"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.calls) != 1 {
		t.Fatalf("expected 1 command execution, got %d", len(fr.calls))
	}
	if fr.calls[0].Env[0] != "TOOL=read_file" {
		t.Fatalf("expected TOOL env var, got %v", fr.calls[0].Env)
	}
}

func TestHookFailureIsAdvisoryByDefault(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{err: errors.New("boom")}
	r := NewRunner(Config{Commands: map[Event]string{PostToolUse: "false"}}, fr)

	if err := r.RunPostToolUse(context.Background(), PostToolUseEnv{PreToolUseEnv: PreToolUseEnv{Tool: "bash"}, Success: false}); err != nil {
		t.Fatalf("expected advisory failure to be swallowed, got %v", err)
	}
}

func TestHookFailureBlocksWhenConfigured(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{err: errors.New("boom")}
	r := NewRunner(Config{Commands: map[Event]string{SessionEnd: "false"}, Blocking: true}, fr)

	if err := r.RunSessionEnd(context.Background(), "session-1"); err == nil {
		t.Fatalf("expected blocking hook failure to propagate")
	}
}
