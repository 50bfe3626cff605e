package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swe-agent/swe-rex/internal/config"
	"github.com/swe-agent/swe-rex/pkg/types"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		PS1:             "SWE-REX-PS1>",
		PS2:             "SWE-REX-PS2>",
		DefaultTimeout:  "10s",
		StartupTimeout:  "10s",
		RecoveryTimeout: "3s",
		ReadInterval:    "50ms",
		QuitByte:        0x04,
	}
}

func startSession(t *testing.T, req types.CreateBashSessionRequest) *BashSession {
	t.Helper()
	if _, err := os.Stat(bashPath); err != nil {
		t.Skipf("bash not available: %v", err)
	}
	if req.Session == "" {
		req.Session = "test"
	}
	s := NewBashSession(req, testSessionConfig())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("session start failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func run(t *testing.T, s *BashSession, action types.BashAction) *types.BashObservation {
	t.Helper()
	obs, err := s.Run(context.Background(), &action)
	if err != nil {
		t.Fatalf("run %q failed: %v", action.Command, err)
	}
	return obs
}

func TestBashSessionHelloWorld(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	obs := run(t, s, types.BashAction{Command: "echo hello world"})
	if obs.ExitCode == nil || *obs.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", obs.ExitCode)
	}
	if got := strings.TrimSpace(obs.Output); got != "hello world" {
		t.Errorf("output = %q, want %q", got, "hello world")
	}
	if obs.ExpectString != testSessionConfig().PS1 {
		t.Errorf("expect_string = %q, want the prompt", obs.ExpectString)
	}
}

func TestBashSessionNoTrailingNewline(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	// Output without a trailing newline glues directly onto the prompt
	// and the first sentinel; the command must still complete.
	obs, err := s.Run(context.Background(), &types.BashAction{
		Command: "echo -n hi",
		Timeout: 3,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if obs.ExitCode == nil || *obs.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", obs.ExitCode)
	}
	if got := strings.TrimSpace(obs.Output); got != "hi" {
		t.Errorf("output = %q, want %q", got, "hi")
	}
}

func TestScanSentinelsPromptPrefixed(t *testing.T) {
	cfg := testSessionConfig()
	s := NewBashSession(types.CreateBashSessionRequest{Session: "scan"}, cfg)

	soutLine := "SOUT:abc"
	scodePrefix := "SCODE:abc:"

	// The shell prints its prompt before reading the buffered wrapper
	// line, so both sentinels arrive prompt-prefixed mid-line.
	stream := "hello\r\n" + cfg.PS1 + "SOUT:abc\r\nSCODE:abc:0\r\n" + cfg.PS1
	code, ok := s.scanSentinels(stream, soutLine, scodePrefix)
	if !ok || code != 0 {
		t.Errorf("prompt-prefixed sentinels not detected: ok=%v code=%d", ok, code)
	}

	// No trailing newline on the output either.
	stream = "hi" + cfg.PS1 + "SOUT:abc\r\nSCODE:abc:7\r\n" + cfg.PS1
	code, ok = s.scanSentinels(stream, soutLine, scodePrefix)
	if !ok || code != 7 {
		t.Errorf("glued output not detected: ok=%v code=%d", ok, code)
	}

	// The echoed wrapper alone must not complete the command.
	stream = "EC=$?; echo SOUT:abc; echo SCODE:abc:$EC\r\n"
	if _, ok := s.scanSentinels(stream, soutLine, scodePrefix); ok {
		t.Errorf("echoed wrapper treated as completion")
	}

	// Prompt not back yet: keep reading.
	stream = "hello\r\n" + cfg.PS1 + "SOUT:abc\r\nSCODE:abc:0"
	if _, ok := s.scanSentinels(stream, soutLine, scodePrefix); ok {
		t.Errorf("completion reported before the prompt returned")
	}
}

func TestMatchExpectAtTail(t *testing.T) {
	if got := matchExpect("gdb> step\noutput\ngdb> ", []string{"gdb> "}); got != "gdb> " {
		t.Errorf("tail occurrence not matched, got %q", got)
	}
	if got := matchExpect("(gdb) was mentioned mid-stream\nmore output", []string{"(gdb)"}); got != "" {
		t.Errorf("mid-stream occurrence must not match, got %q", got)
	}
	if got := matchExpect("password:\r\n", []string{"password:"}); got != "password:" {
		t.Errorf("trailing terminal whitespace should be tolerated, got %q", got)
	}
}

func TestBashSessionStatePersists(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	run(t, s, types.BashAction{Command: "export GREETING=salut; cd /tmp"})

	obs := run(t, s, types.BashAction{Command: "echo $GREETING $(pwd)"})
	if got := strings.TrimSpace(obs.Output); got != "salut /tmp" {
		t.Errorf("session state did not persist: got %q", got)
	}
}

func TestBashSessionNonZeroExitCode(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	obs := run(t, s, types.BashAction{Command: "bash -c 'exit 42'"})
	if obs.ExitCode == nil || *obs.ExitCode != 42 {
		t.Errorf("expected exit code 42, got %v", obs.ExitCode)
	}
	if obs.FailureReason != "" {
		t.Errorf("non-zero exit is not a failure, got reason %q", obs.FailureReason)
	}
}

func TestBashSessionCheckRaise(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	_, err := s.Run(context.Background(), &types.BashAction{
		Command:  "bash -c 'exit 3'",
		Check:    types.CheckRaise,
		ErrorMsg: "setup step",
	})
	if !types.IsKind(err, types.KindNonZeroExitCode) {
		t.Fatalf("expected NonZeroExitCodeError, got %v", err)
	}
	re, _ := types.AsError(err)
	if re.Extra["exit_code"] != 3 {
		t.Errorf("expected exit_code 3 in extra, got %v", re.Extra["exit_code"])
	}
	if !strings.HasPrefix(re.Message, "setup step") {
		t.Errorf("error_msg should prefix the message, got %q", re.Message)
	}

	// The session survives a check failure.
	obs := run(t, s, types.BashAction{Command: "echo still here"})
	if got := strings.TrimSpace(obs.Output); got != "still here" {
		t.Errorf("session unusable after check failure: %q", got)
	}
}

func TestBashSessionIncorrectSyntax(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	_, err := s.Run(context.Background(), &types.BashAction{Command: "echo 'unterminated"})
	if !types.IsKind(err, types.KindBashIncorrectSyntax) {
		t.Fatalf("expected BashIncorrectSyntaxError, got %v", err)
	}

	// Nothing was sent to the shell, so it keeps working.
	obs := run(t, s, types.BashAction{Command: "echo fine"})
	if got := strings.TrimSpace(obs.Output); got != "fine" {
		t.Errorf("session unusable after rejected command: %q", got)
	}
}

func TestBashSessionHeredoc(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	obs := run(t, s, types.BashAction{Command: "cat <<EOF\nline one\nline two\nEOF"})
	if obs.ExitCode == nil || *obs.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", obs.ExitCode)
	}
	got := strings.TrimSpace(obs.Output)
	if !strings.Contains(got, "line one") || !strings.Contains(got, "line two") {
		t.Errorf("heredoc output = %q", got)
	}
}

func TestBashSessionTimeoutRecovered(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	_, err := s.Run(context.Background(), &types.BashAction{
		Command: "echo before; sleep 30",
		Timeout: 0.5,
	})
	if !types.IsKind(err, types.KindCommandTimeout) {
		t.Fatalf("expected CommandTimeoutError, got %v", err)
	}
	re, _ := types.AsError(err)
	if re.Extra["recovered"] != true {
		t.Errorf("sleep should be interruptible, recovered = %v", re.Extra["recovered"])
	}
	partial, _ := re.Extra["partial_output"].(string)
	if !strings.Contains(partial, "before") {
		t.Errorf("partial output should contain pre-timeout output, got %q", partial)
	}

	// Recovered sessions accept further commands.
	obs := run(t, s, types.BashAction{Command: "echo recovered"})
	if got := strings.TrimSpace(obs.Output); got != "recovered" {
		t.Errorf("session unusable after recovered timeout: %q", got)
	}
}

func TestBashSessionInteractiveProgram(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})

	// Hand the terminal to cat; nothing terminates the read, so the
	// timeout path returns whatever accumulated without an error.
	obs, err := s.Run(context.Background(), &types.BashAction{
		Command:              "cat",
		IsInteractiveCommand: true,
		Timeout:              0.5,
	})
	if err != nil {
		t.Fatalf("interactive start failed: %v", err)
	}
	if obs.ExitCode != nil {
		t.Errorf("interactive commands carry no exit code, got %v", *obs.ExitCode)
	}

	// Feed input and expect it echoed back by cat.
	obs, err = s.Run(context.Background(), &types.BashAction{
		Command:              "ping",
		IsInteractiveCommand: true,
		Expect:               []string{"ping"},
		Timeout:              5,
	})
	if err != nil {
		t.Fatalf("interactive input failed: %v", err)
	}
	if obs.ExpectString != "ping" {
		t.Errorf("expect_string = %q, want %q", obs.ExpectString, "ping")
	}

	// Ctrl-D ends cat and the prompt comes back.
	obs, err = s.Run(context.Background(), &types.BashAction{
		IsInteractiveQuit: true,
		Timeout:           5,
	})
	if err != nil {
		t.Fatalf("interactive quit failed: %v", err)
	}
	if obs.ExpectString != testSessionConfig().PS1 {
		t.Errorf("expected the prompt after quit, got %q", obs.ExpectString)
	}

	obs = run(t, s, types.BashAction{Command: "echo back"})
	if got := strings.TrimSpace(obs.Output); got != "back" {
		t.Errorf("session unusable after interactive program: %q", got)
	}
}

func TestBashSessionStartupSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.sh")
	if err := os.WriteFile(path, []byte("export SOURCED=yes\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := startSession(t, types.CreateBashSessionRequest{StartupSource: []string{path}})

	obs := run(t, s, types.BashAction{Command: "echo $SOURCED"})
	if got := strings.TrimSpace(obs.Output); got != "yes" {
		t.Errorf("startup source not applied: %q", got)
	}
}

func TestBashSessionStartupSourceFailure(t *testing.T) {
	if _, err := os.Stat(bashPath); err != nil {
		t.Skipf("bash not available: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sh")
	if err := os.WriteFile(path, []byte("false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewBashSession(types.CreateBashSessionRequest{
		Session:       "bad",
		StartupSource: []string{path},
	}, testSessionConfig())
	_, err := s.Start(context.Background())
	if !types.IsKind(err, types.KindSessionNotInitialized) {
		t.Fatalf("expected SessionNotInitializedError, got %v", err)
	}
	s.Close()
}

func TestBashSessionRunAfterClose(t *testing.T) {
	s := startSession(t, types.CreateBashSessionRequest{})
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err := s.Run(context.Background(), &types.BashAction{Command: "echo nope"})
	if !types.IsKind(err, types.KindSessionNotInitialized) {
		t.Errorf("expected SessionNotInitializedError after close, got %v", err)
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}
