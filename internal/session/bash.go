// Package session implements persistent interactive shell sessions and
// the registry that keys them by name.
package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/swe-agent/swe-rex/internal/config"
	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/internal/pty"
	"github.com/swe-agent/swe-rex/pkg/types"
)

const (
	bashPath     = "/bin/bash"
	readMaxBytes = 64 * 1024
)

// Session is one long-lived interactive shell owned by the runtime.
type Session interface {
	Start(ctx context.Context) (*types.CreateSessionResponse, error)
	Run(ctx context.Context, action *types.BashAction) (*types.BashObservation, error)
	Close() error
	Type() types.SessionType
}

// BashSession drives a single bash process over a PTY. A per-session
// mutex serializes commands; prompt synchronization plus per-command
// sentinel nonces provide end-of-command detection.
type BashSession struct {
	name    string
	request types.CreateBashSessionRequest
	cfg     config.SessionConfig

	mu      sync.Mutex
	shell   *pty.Handle
	started bool
	failed  bool
	// Why the session became unusable (shell died, unrecovered timeout).
	failureReason string

	sz sanitizer
}

// NewBashSession builds a session from a create request; Start must be
// called before Run.
func NewBashSession(req types.CreateBashSessionRequest, cfg config.SessionConfig) *BashSession {
	return &BashSession{
		name:    req.Session,
		request: req,
		cfg:     cfg,
		sz:      sanitizer{ps1: cfg.PS1, ps2: cfg.PS2},
	}
}

func (s *BashSession) Type() types.SessionType { return types.SessionTypeBash }

// newNonce returns a fresh sentinel nonce. Regenerated per call so a
// command that prints an old sentinel cannot terminate a later command.
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start spawns bash, disables interactive chrome, sources the startup
// files and synchronizes on the prompt.
func (s *BashSession) Start(ctx context.Context) (*types.CreateSessionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, types.NewSessionNotInitializedError(s.name, "session already started")
	}

	startupTimeout := s.cfg.GetStartupTimeout()
	if s.request.StartupTimeout > 0 {
		startupTimeout = secondsToDuration(s.request.StartupTimeout)
	}
	deadline := time.Now().Add(startupTimeout)

	shell, err := pty.Spawn([]string{bashPath, "--norc", "--noprofile"}, bashEnv(s.cfg), "")
	if err != nil {
		return nil, types.NewSessionNotInitializedError(s.name, err.Error())
	}
	s.shell = shell

	// Disable input echo, history expansion and bracketed paste, then
	// pin the prompts. Canonical mode stays on: foreground programs
	// inherit it, and both the quit byte (VEOF) and the timeout
	// interrupt (VINTR) are line-discipline features. The boot nonce
	// doubles as the first prompt-sync point.
	bootNonce := "BOOT-" + newNonce()
	setup := strings.Join([]string{
		"stty -echo",
		"set +H",
		"bind 'set enable-bracketed-paste off' >/dev/null 2>&1 || true",
		fmt.Sprintf("export PS1='%s' PS2='%s' PS0=''", s.cfg.PS1, s.cfg.PS2),
		"echo " + bootNonce,
	}, "; ") + "\n"

	if err := shell.Write([]byte(setup)); err != nil {
		shell.Terminate()
		return nil, types.NewSessionNotInitializedError(s.name, fmt.Sprintf("failed to write setup: %v", err))
	}

	boot, err := s.drainUntil(ctx, deadline, bootNonce)
	if err != nil {
		shell.Terminate()
		return nil, err
	}
	transcript := []string{s.sz.clean(boot, strings.TrimSuffix(setup, "\n"))}

	// Each startup source must complete with exit 0, otherwise the
	// session state is undefined and we refuse to hand it out.
	for _, path := range s.request.StartupSource {
		obs, err := s.runNormal(ctx, "source "+path, time.Until(deadline), nil)
		if err != nil {
			shell.Terminate()
			return nil, types.NewSessionNotInitializedError(s.name, fmt.Sprintf("startup source %q: %v", path, err))
		}
		if obs.ExitCode == nil || *obs.ExitCode != 0 {
			shell.Terminate()
			return nil, types.NewSessionNotInitializedError(s.name,
				fmt.Sprintf("startup source %q exited non-zero: %s", path, obs.Output))
		}
		transcript = append(transcript, obs.Output)
	}

	s.started = true
	logging.Info("bash session started",
		logging.String("session", s.name),
		logging.Int("startup_sources", len(s.request.StartupSource)),
	)

	return &types.CreateSessionResponse{
		Output:      strings.TrimSpace(strings.Join(transcript, "\n")),
		SessionType: types.SessionTypeBash,
	}, nil
}

// bashEnv pins the prompt variables in the environment as well, so the
// very first prompt printed before the setup line runs is already ours.
func bashEnv(cfg config.SessionConfig) []string {
	env := os.Environ()
	env = append(env,
		"PS1="+cfg.PS1,
		"PS2="+cfg.PS2,
		"PS0=",
		"TERM=dumb",
	)
	return env
}

// drainUntil reads until marker appears as a standalone line and the
// prompt follows it. Returns everything collected before the marker.
func (s *BashSession) drainUntil(ctx context.Context, deadline time.Time, marker string) (string, error) {
	interval := s.cfg.GetReadInterval()
	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return "", types.NewSessionNotInitializedError(s.name, err.Error())
		}
		chunk, eof, _ := s.shell.ReadNonblocking(readMaxBytes, interval)
		buf = append(buf, chunk...)
		str := string(buf)
		if idx := findLine(str, marker); idx >= 0 {
			tail := str[idx+len(marker):]
			if strings.Contains(tail, s.cfg.PS1) {
				return str[:idx], nil
			}
		}
		if eof {
			return "", types.NewSessionNotInitializedError(s.name, "shell exited during startup")
		}
		if time.Now().After(deadline) {
			return "", types.NewSessionNotInitializedError(s.name, "timeout while waiting for prompt")
		}
	}
}

// Run executes one action in the session. Concurrent calls on the same
// session are serialized; the mutex is held for the whole command.
func (s *BashSession) Run(ctx context.Context, action *types.BashAction) (*types.BashObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, types.NewSessionNotInitializedError(s.name, "session not started")
	}
	if s.failed {
		return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
	}
	if !s.shell.Alive() {
		s.fail("shell process exited unexpectedly")
		return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
	}

	timeout := s.cfg.GetDefaultTimeout()
	if action.Timeout > 0 {
		timeout = secondsToDuration(action.Timeout)
	}

	if action.IsInteractiveCommand || action.IsInteractiveQuit {
		return s.runInteractive(ctx, action, timeout)
	}

	obs, err := s.runNormal(ctx, action.Command, timeout, action.Expect)
	if err != nil {
		return nil, err
	}
	if action.Check == types.CheckRaise && obs.ExitCode != nil && *obs.ExitCode != 0 {
		return nil, types.NewNonZeroExitCodeError(action.Command, *obs.ExitCode, obs.Output, action.ErrorMsg)
	}
	return obs, nil
}

// runNormal wraps the command with sentinel echoes and scans the PTY
// stream for them. The exit code is captured with EC=$? *between* the
// command and the sentinel echo, because the echo itself resets $?.
func (s *BashSession) runNormal(ctx context.Context, command string, timeout time.Duration, expect []string) (*types.BashObservation, error) {
	if err := CheckSyntax(command); err != nil {
		return nil, err
	}

	nonce := newNonce()
	soutLine := "SOUT:" + nonce
	scodePrefix := "SCODE:" + nonce + ":"
	wrapper := fmt.Sprintf("EC=$?; echo %s; echo %s$EC", soutLine, scodePrefix)
	payload := command + "\n" + wrapper + "\n"

	if err := s.shell.Write([]byte(payload)); err != nil {
		s.fail(fmt.Sprintf("failed to write command: %v", err))
		return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
	}

	interval := s.cfg.GetReadInterval()
	deadline := time.Now().Add(timeout)
	var buf []byte

	for {
		chunk, eof, _ := s.shell.ReadNonblocking(readMaxBytes, interval)
		buf = append(buf, chunk...)
		str := string(buf)

		if exitCode, ok := s.scanSentinels(str, soutLine, scodePrefix); ok {
			raw := str[:findMarker(str, soutLine)]
			output := s.sz.clean(raw, command, wrapper)
			return &types.BashObservation{
				Output:       output,
				ExitCode:     types.IntPtr(exitCode),
				ExpectString: s.cfg.PS1,
				SessionType:  types.SessionTypeBash,
			}, nil
		}

		// SOUT printed and the prompt is back, but the exit-code line
		// never parsed: the shell state is corrupted.
		if findMarker(str, soutLine) >= 0 &&
			strings.HasSuffix(strings.TrimRight(str, " \r\n"), s.cfg.PS1) {
			return nil, types.NewNoExitCodeError(
				fmt.Sprintf("sentinel found but exit-code suffix malformed (command %q)", command))
		}

		// A command may hand control to an interactive program whose
		// prompt the caller anticipates via expect strings.
		if matched := matchExpect(str, expect); matched != "" {
			return &types.BashObservation{
				Output:       s.sz.clean(str, command, wrapper),
				ExpectString: matched,
				SessionType:  types.SessionTypeBash,
			}, nil
		}

		if eof {
			s.fail("shell process exited while running command")
			return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
		}
		if time.Now().After(deadline) {
			return nil, s.recoverFromTimeout(command, timeout, str)
		}
		if err := ctx.Err(); err != nil {
			return nil, s.recoverFromTimeout(command, timeout, str)
		}
	}
}

// scanSentinels looks for the SCODE marker with a parsable integer
// suffix followed by the prompt. The markers arrive prompt-prefixed:
// bash prints PS1 before reading the buffered wrapper line, so neither
// sentinel sits at a line start. Echoed input is skipped naturally: the
// echoed wrapper still reads ":$EC", which never parses as digits.
func (s *BashSession) scanSentinels(str, soutLine, scodePrefix string) (int, bool) {
	from := 0
	for {
		idx := strings.Index(str[from:], scodePrefix)
		if idx < 0 {
			return 0, false
		}
		idx += from
		rest := str[idx+len(scodePrefix):]
		code, width := parseLeadingInt(rest)
		if width == 0 {
			from = idx + len(scodePrefix)
			continue
		}
		after := rest[width:]
		if !strings.HasPrefix(after, "\n") && !strings.HasPrefix(after, "\r") {
			from = idx + len(scodePrefix)
			continue
		}
		if !strings.Contains(after, s.cfg.PS1) {
			// Prompt not back yet; keep reading.
			return 0, false
		}
		if findMarker(str, soutLine) < 0 {
			return 0, false
		}
		return code, true
	}
}

func parseLeadingInt(s string) (int, int) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, 0
	}
	n := 0
	for _, c := range s[:i] {
		n = n*10 + int(c-'0')
	}
	return n, i
}

// matchExpect reports the first expect string sitting at the buffer
// tail. Mid-stream occurrences do not terminate the read; trailing
// whitespace the terminal appended is tolerated.
func matchExpect(str string, expect []string) string {
	trimmed := strings.TrimRight(str, " \t\r\n")
	for _, e := range expect {
		if e == "" {
			continue
		}
		if strings.HasSuffix(str, e) || strings.HasSuffix(trimmed, e) {
			return e
		}
	}
	return ""
}

// recoverFromTimeout interrupts the foreground command and waits for
// the prompt to come back. If it does, the session stays usable and the
// error says so; if not, the shell is torn down and the session is
// marked failed.
//
// The interrupt is the terminal's own: job control puts the foreground
// command in its own process group, so a signal aimed at the shell's
// group would miss it. Writing ETX to the PTY lets the line discipline
// deliver SIGINT to whatever holds the foreground.
func (s *BashSession) recoverFromTimeout(command string, timeout time.Duration, partial string) error {
	timeoutSecs := timeout.Seconds()

	if err := s.shell.Write([]byte{0x03}); err != nil {
		s.fail(fmt.Sprintf("failed to interrupt command: %v", err))
		return types.NewCommandTimeoutError(command, timeoutSecs, false, s.sz.clean(partial, command))
	}

	interval := s.cfg.GetReadInterval()
	recoveryDeadline := time.Now().Add(s.cfg.GetRecoveryTimeout())
	buf := []byte(partial)

	for time.Now().Before(recoveryDeadline) {
		chunk, eof, _ := s.shell.ReadNonblocking(readMaxBytes, interval)
		buf = append(buf, chunk...)
		if eof {
			break
		}
		if strings.HasSuffix(strings.TrimRight(string(buf), " \r\n"), s.cfg.PS1) {
			logging.Warn("command interrupted after timeout, session recovered",
				logging.String("session", s.name),
				logging.Float64("timeout_s", timeoutSecs),
			)
			return types.NewCommandTimeoutError(command, timeoutSecs, true, s.sz.clean(string(buf), command))
		}
	}

	// The shell is wedged. Tear it down so nothing blocks on it again.
	s.shell.Signal(unix.SIGTERM)
	s.shell.Terminate()
	s.fail("command timed out and the shell could not be recovered")
	logging.Error("session failed after unrecoverable timeout",
		logging.String("session", s.name),
		logging.Float64("timeout_s", timeoutSecs),
	)
	return types.NewCommandTimeoutError(command, timeoutSecs, false, s.sz.clean(string(buf), command))
}

// runInteractive writes the command without sentinel wrapping and reads
// until an expect string or the prompt shows up, or the timeout passes.
// Exit codes are not retrieved; whatever output is present is returned.
func (s *BashSession) runInteractive(ctx context.Context, action *types.BashAction, timeout time.Duration) (*types.BashObservation, error) {
	if action.IsInteractiveQuit {
		if err := s.shell.Write([]byte{s.cfg.GetQuitByte()}); err != nil {
			s.fail(fmt.Sprintf("failed to write quit byte: %v", err))
			return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
		}
	}
	if action.Command != "" {
		if err := s.shell.Write([]byte(action.Command + "\n")); err != nil {
			s.fail(fmt.Sprintf("failed to write command: %v", err))
			return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
		}
	} else if !action.IsInteractiveQuit {
		return nil, types.NewBashIncorrectSyntaxError("", "empty interactive command")
	}

	interval := s.cfg.GetReadInterval()
	deadline := time.Now().Add(timeout)
	expect := append([]string{}, action.Expect...)
	expect = append(expect, s.cfg.PS1)
	var buf []byte

	for {
		chunk, eof, _ := s.shell.ReadNonblocking(readMaxBytes, interval)
		buf = append(buf, chunk...)
		str := string(buf)

		if matched := matchExpect(str, expect); matched != "" {
			output := str
			if idx := strings.LastIndex(str, matched); idx >= 0 {
				output = str[:idx]
			}
			return &types.BashObservation{
				Output:       s.sz.clean(output, action.Command),
				ExpectString: matched,
				SessionType:  types.SessionTypeBash,
			}, nil
		}

		if eof && action.IsInteractiveQuit {
			// Quitting the shell itself (e.g. Ctrl-D at top level).
			s.fail("shell exited after interactive quit")
			return &types.BashObservation{
				Output:      s.sz.clean(str, action.Command),
				SessionType: types.SessionTypeBash,
			}, nil
		}
		if eof {
			s.fail("shell process exited while running interactive command")
			return nil, types.NewSessionNotInitializedError(s.name, s.failureReason)
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			// Interactive mode returns whatever was collected.
			return &types.BashObservation{
				Output:      s.sz.clean(str, action.Command),
				SessionType: types.SessionTypeBash,
			}, nil
		}
	}
}

// Close asks the shell to exit, then force-terminates it. Idempotent.
func (s *BashSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shell == nil {
		return nil
	}
	if s.shell.Alive() {
		s.shell.Write([]byte("exit\n"))
		s.shell.WaitExit(500 * time.Millisecond)
	}
	s.shell.Terminate()
	s.started = false
	logging.Info("bash session closed", logging.String("session", s.name))
	return nil
}

// fail marks the session unusable. Callers must hold s.mu.
func (s *BashSession) fail(reason string) {
	s.failed = true
	s.failureReason = reason
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
