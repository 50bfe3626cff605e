// Package types defines error types for the runtime server.
package types

import (
	"errors"
	"fmt"
)

// Error kinds. These names cross the HTTP boundary in the error
// envelope and are reconstructed by name on the client side.
const (
	KindSessionExists         = "SessionExistsError"
	KindSessionDoesNotExist   = "SessionDoesNotExistError"
	KindSessionNotInitialized = "SessionNotInitializedError"
	KindBashIncorrectSyntax   = "BashIncorrectSyntaxError"
	KindCommandTimeout        = "CommandTimeoutError"
	KindNonZeroExitCode       = "NonZeroExitCodeError"
	KindNoExitCode            = "NoExitCodeError"
	KindDeploymentNotStarted  = "DeploymentNotStartedError"
	KindFileOp                = "FileOpError"
)

// Error is a structured runtime error. Kind selects the taxonomy entry;
// Extra carries kind-specific payload (e.g. partial output on timeout).
type Error struct {
	Kind    string         `json:"error_kind"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// IsKind reports whether err is a runtime error of the given kind.
func IsKind(err error, kind string) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// AsError extracts the structured error from err, if present.
func AsError(err error) (*Error, bool) {
	var re *Error
	ok := errors.As(err, &re)
	return re, ok
}

func NewSessionExistsError(session string) *Error {
	return &Error{
		Kind:    KindSessionExists,
		Message: fmt.Sprintf("session %q already exists", session),
	}
}

func NewSessionDoesNotExistError(session string) *Error {
	return &Error{
		Kind:    KindSessionDoesNotExist,
		Message: fmt.Sprintf("session %q does not exist", session),
	}
}

func NewSessionNotInitializedError(session, reason string) *Error {
	return &Error{
		Kind:    KindSessionNotInitialized,
		Message: fmt.Sprintf("session %q is not usable: %s", session, reason),
	}
}

func NewBashIncorrectSyntaxError(command string, detail string) *Error {
	return &Error{
		Kind:    KindBashIncorrectSyntax,
		Message: fmt.Sprintf("syntax check failed for command %q: %s", command, detail),
		Extra:   map[string]any{"command": command},
	}
}

// NewCommandTimeoutError reports a command that missed its deadline.
// recovered tells the caller whether the session is still usable.
func NewCommandTimeoutError(command string, timeout float64, recovered bool, partialOutput string) *Error {
	return &Error{
		Kind:    KindCommandTimeout,
		Message: fmt.Sprintf("timeout (%gs) exceeded while running command %q", timeout, command),
		Extra: map[string]any{
			"timeout":        timeout,
			"recovered":      recovered,
			"partial_output": partialOutput,
		},
	}
}

func NewNonZeroExitCodeError(command string, exitCode int, output, errorMsg string) *Error {
	msg := fmt.Sprintf("command %q failed with exit code %d. Here is the output:\n%s", command, exitCode, output)
	if errorMsg != "" {
		msg = errorMsg + ": " + msg
	}
	return &Error{
		Kind:    KindNonZeroExitCode,
		Message: msg,
		Extra:   map[string]any{"exit_code": exitCode, "output": output},
	}
}

func NewNoExitCodeError(detail string) *Error {
	return &Error{
		Kind:    KindNoExitCode,
		Message: "failed to extract exit code: " + detail,
	}
}

func NewDeploymentNotStartedError() *Error {
	return &Error{
		Kind:    KindDeploymentNotStarted,
		Message: "runtime called before start completed",
	}
}

func NewFileOpError(op, path string, err error) *Error {
	return &Error{
		Kind:    KindFileOp,
		Message: fmt.Sprintf("%s %q: %v", op, path, err),
	}
}
