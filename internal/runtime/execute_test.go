package runtime

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/swe-agent/swe-rex/internal/config"
	"github.com/swe-agent/swe-rex/pkg/types"
)

func testRuntime(t *testing.T) *LocalRuntime {
	t.Helper()
	rt := NewLocal(config.DefaultConfig())
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func TestExecuteArgv(t *testing.T) {
	rt := testRuntime(t)

	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", resp.Stdout, "hello\n")
	}
	if resp.ExitCode == nil || *resp.ExitCode != 0 || !resp.Success {
		t.Errorf("expected success with exit 0, got code=%v success=%v", resp.ExitCode, resp.Success)
	}
}

func TestExecuteShellMode(t *testing.T) {
	rt := testRuntime(t)

	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"echo one && echo two"},
		Shell:   true,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Stdout != "one\ntwo\n" {
		t.Errorf("stdout = %q, want %q", resp.Stdout, "one\ntwo\n")
	}
}

func TestExecuteShellPositionalArgs(t *testing.T) {
	rt := testRuntime(t)

	// Extra argv elements become $0, $1, ... of the script; an argument
	// containing spaces must come through as one word.
	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{`printf '%s\n' "$@"`, "sh", "a b", "c"},
		Shell:   true,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Stdout != "a b\nc\n" {
		t.Errorf("stdout = %q, want %q", resp.Stdout, "a b\nc\n")
	}
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	rt := testRuntime(t)

	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"exit 7"},
		Shell:   true,
	})
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if resp.ExitCode == nil || *resp.ExitCode != 7 {
		t.Errorf("exit code = %v, want 7", resp.ExitCode)
	}
	if resp.Success {
		t.Errorf("success should be false for exit 7")
	}
}

func TestExecuteStderrSeparate(t *testing.T) {
	rt := testRuntime(t)

	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"echo out; echo err >&2"},
		Shell:   true,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Stdout != "out\n" {
		t.Errorf("stdout = %q", resp.Stdout)
	}
	if resp.Stderr != "err\n" {
		t.Errorf("stderr = %q", resp.Stderr)
	}
}

func TestExecuteStdin(t *testing.T) {
	rt := testRuntime(t)

	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"cat"},
		Stdin:   "piped input",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Stdout != "piped input" {
		t.Errorf("stdout = %q, want the stdin payload", resp.Stdout)
	}
}

func TestExecuteEnvAndCwd(t *testing.T) {
	rt := testRuntime(t)
	dir := t.TempDir()

	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"echo $MARKER; pwd"},
		Shell:   true,
		Env:     map[string]string{"MARKER": "custom"},
		Cwd:     dir,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(resp.Stdout, "custom") {
		t.Errorf("env not applied: %q", resp.Stdout)
	}
	if !strings.Contains(resp.Stdout, dir) {
		t.Errorf("cwd not applied: %q", resp.Stdout)
	}
}

func TestExecuteTimeoutKillsProcessGroup(t *testing.T) {
	rt := testRuntime(t)

	start := time.Now()
	resp, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"echo partial; sleep 30"},
		Shell:   true,
		Timeout: 0.5,
	})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took %v, the group was not reaped", elapsed)
	}
	if resp.ExitCode != nil {
		t.Errorf("exit code should be null on timeout, got %v", *resp.ExitCode)
	}
	if resp.Success {
		t.Errorf("success should be false on timeout")
	}
	if !strings.Contains(resp.Stdout, "partial") {
		t.Errorf("partial output lost: %q", resp.Stdout)
	}
}

func TestExecuteEmptyCommand(t *testing.T) {
	rt := testRuntime(t)

	if _, err := rt.Execute(context.Background(), &types.Command{}); err == nil {
		t.Errorf("expected error for empty command")
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	rt := testRuntime(t)

	_, err := rt.Execute(context.Background(), &types.Command{
		Command: types.CommandArgv{"/definitely/not/a/binary"},
	})
	if err == nil {
		t.Errorf("expected start error for missing binary")
	}
	if _, statErr := os.Stat("/definitely/not/a/binary"); statErr == nil {
		t.Skip("unexpected binary present")
	}
}
