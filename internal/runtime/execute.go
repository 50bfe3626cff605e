package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/pkg/types"
)

const shellPath = "/bin/sh"

// Execute runs a single command in a fresh child process, independent
// of any session. Non-zero exits are not errors; the caller interprets
// the exit code. On timeout the whole process group is killed and the
// partial buffers collected so far are returned with a null exit code.
// A dispatched command runs to completion or timeout; client
// disconnects do not cancel it.
func (r *LocalRuntime) Execute(ctx context.Context, command *types.Command) (*types.CommandResponse, error) {
	argv := buildArgv(command)
	if len(argv) == 0 {
		return nil, types.NewFileOpError("execute", "", errors.New("empty command"))
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	// Own process group, so a timeout kill reaps grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = command.Cwd

	if len(command.Env) > 0 {
		env := os.Environ()
		for k, v := range command.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, types.NewFileOpError("execute", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if command.Timeout > 0 {
		timer := time.NewTimer(time.Duration(command.Timeout * float64(time.Second)))
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case waitErr := <-done:
		exitCode := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				return nil, types.NewFileOpError("execute", argv[0], waitErr)
			}
		}
		logging.Debug("one-shot command finished",
			logging.String("command", argv[0]),
			logging.Int("exit_code", exitCode),
			logging.Duration("elapsed", time.Since(start)),
		)
		return &types.CommandResponse{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: types.IntPtr(exitCode),
			Success:  exitCode == 0,
		}, nil

	case <-timeoutCh:
		unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		<-done
		logging.Warn("one-shot command killed on timeout",
			logging.String("command", argv[0]),
			logging.Float64("timeout_s", command.Timeout),
		)
		return &types.CommandResponse{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: nil,
			Success:  false,
		}, nil
	}
}

// buildArgv maps the wire command to an argv. shell=true runs the
// first element through sh -c; any further elements become the
// script's positional parameters ($0, $1, ...), so arguments with
// spaces survive intact.
func buildArgv(command *types.Command) []string {
	if !command.Shell {
		return command.Command
	}
	if len(command.Command) == 0 || command.Command[0] == "" {
		return nil
	}
	return append([]string{shellPath, "-c"}, command.Command...)
}
