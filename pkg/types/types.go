// Package types defines the wire-level domain types for the runtime server.
package types

import (
	"encoding/json"
	"fmt"
)

// SessionType identifies the kind of interactive session.
type SessionType string

const (
	SessionTypeBash SessionType = "bash"
)

// CheckMode decides whether a non-zero exit code raises an error.
type CheckMode string

const (
	CheckSilent CheckMode = "silent"
	CheckRaise  CheckMode = "raise"
)

// IsAliveResponse is returned by the is_alive endpoint.
type IsAliveResponse struct {
	IsAlive bool   `json:"is_alive"`
	Message string `json:"message,omitempty"`
}

// CreateBashSessionRequest asks the runtime to spawn a new bash session.
type CreateBashSessionRequest struct {
	Session string `json:"session"`
	// Files to source before the session accepts commands. These get
	// special treatment because they often overwrite PS1, which the
	// session needs to reset afterwards.
	StartupSource  []string    `json:"startup_source,omitempty"`
	StartupTimeout float64     `json:"startup_timeout,omitempty"`
	SessionType    SessionType `json:"session_type,omitempty"`
}

// CreateSessionResponse is returned once the session reached its prompt.
type CreateSessionResponse struct {
	Output      string      `json:"output"`
	SessionType SessionType `json:"session_type"`
}

// BashAction runs a command inside an existing bash session.
type BashAction struct {
	Command string `json:"command"`
	Session string `json:"session"`
	// Timeout in seconds. Zero means the session default.
	Timeout float64 `json:"timeout,omitempty"`
	// For a non-exiting command to an interactive program (e.g., gdb).
	// Disables sentinel wrapping and exit-code retrieval.
	IsInteractiveCommand bool `json:"is_interactive_command,omitempty"`
	// Send the configured quit byte (Ctrl-D) first, then behave as an
	// interactive command. With an empty command only the byte is sent.
	IsInteractiveQuit bool `json:"is_interactive_quit,omitempty"`
	// Strings that terminate the read loop in addition to the prompt.
	Expect []string  `json:"expect,omitempty"`
	Check  CheckMode `json:"check,omitempty"`
	// Prefixed to the error message when check=raise fails.
	ErrorMsg    string      `json:"error_msg,omitempty"`
	SessionType SessionType `json:"session_type,omitempty"`
}

// BashObservation is the structured result of a session run.
type BashObservation struct {
	Output   string `json:"output"`
	ExitCode *int   `json:"exit_code"`
	// Empty on success.
	FailureReason string `json:"failure_reason"`
	// Which expect string (or prompt) terminated the command. Empty if
	// the command timed out.
	ExpectString string      `json:"expect_string"`
	SessionType  SessionType `json:"session_type"`
}

// CloseBashSessionRequest closes a single session by name.
type CloseBashSessionRequest struct {
	Session     string      `json:"session"`
	SessionType SessionType `json:"session_type,omitempty"`
}

// CloseSessionResponse acknowledges a session close.
type CloseSessionResponse struct {
	SessionType SessionType `json:"session_type"`
}

// CommandArgv holds a one-shot command line. It accepts either a JSON
// string or a JSON array of argv strings on the wire.
type CommandArgv []string

func (c *CommandArgv) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = CommandArgv{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("command must be a string or a list of strings")
	}
	*c = CommandArgv(many)
	return nil
}

func (c CommandArgv) MarshalJSON() ([]byte, error) {
	if len(c) == 1 {
		return json.Marshal(c[0])
	}
	return json.Marshal([]string(c))
}

// Command is a one-shot execution request, independent of any session.
type Command struct {
	Command CommandArgv       `json:"command"`
	Shell   bool              `json:"shell,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	// Timeout in seconds. Zero means no deadline.
	Timeout float64 `json:"timeout,omitempty"`
	Stdin   string  `json:"stdin,omitempty"`
}

// CommandResponse is the result of a one-shot execution. ExitCode is
// null when the process was killed on timeout.
type CommandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code"`
	Success  bool   `json:"success"`
}

// ReadFileRequest reads an entire file as UTF-8.
type ReadFileRequest struct {
	Path string `json:"path"`
}

type ReadFileResponse struct {
	Content string `json:"content"`
}

// WriteFileRequest writes content, creating parent directories as
// needed. Existing files are overwritten.
type WriteFileRequest struct {
	Content string `json:"content"`
	Path    string `json:"path"`
}

type WriteFileResponse struct{}

// UploadRequest names a client-side file to transfer to the server.
// On the wire the file travels as a multipart form.
type UploadRequest struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

type UploadResponse struct{}

type CloseResponse struct{}

// IntPtr is a convenience for populating nullable exit codes.
func IntPtr(v int) *int { return &v }
