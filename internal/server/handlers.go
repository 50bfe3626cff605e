package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/pkg/types"
)

// Application errors travel with this non-standard status so clients
// can trivially tell a typed runtime error from a transport failure.
const statusAppError = 511

// errorEnvelope is the wire form of a runtime error. Clients
// reconstruct the matching taxonomy entry from error_kind.
type errorEnvelope struct {
	ErrorKind string         `json:"error_kind"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", logging.Err(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	env := errorEnvelope{ErrorKind: "RuntimeError", Message: err.Error()}
	if re, ok := types.AsError(err); ok {
		env.ErrorKind = re.Kind
		env.Extra = re.Extra
	}
	writeJSON(w, statusAppError, env)
}

// decodeJSON rejects malformed request bodies with a plain 400; those
// are transport-level failures, not runtime errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleIsAlive(w http.ResponseWriter, r *http.Request) {
	resp, err := s.runtime.IsAlive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateBashSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.runtime.CreateSession(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunInSession(w http.ResponseWriter, r *http.Request) {
	var action types.BashAction
	if !decodeJSON(w, r, &action) {
		return
	}
	obs, err := s.runtime.RunInSession(r.Context(), &action)
	if err != nil {
		s.metrics.CommandsTotal.WithLabelValues("session", "error").Inc()
		writeError(w, err)
		return
	}
	s.metrics.CommandsTotal.WithLabelValues("session", "ok").Inc()
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req types.CloseBashSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.runtime.CloseSession(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var cmd types.Command
	if !decodeJSON(w, r, &cmd) {
		return
	}
	resp, err := s.runtime.Execute(r.Context(), &cmd)
	if err != nil {
		s.metrics.CommandsTotal.WithLabelValues("execute", "error").Inc()
		writeError(w, err)
		return
	}
	s.metrics.CommandsTotal.WithLabelValues("execute", "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var req types.ReadFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.runtime.ReadFile(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req types.WriteFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.runtime.WriteFile(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload receives a multipart form with fields "file",
// "target_path" and "unzip". The file is spooled to a temp location and
// handed to the runtime, which moves or extracts it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing multipart field \"file\": "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	targetPath := r.FormValue("target_path")
	if targetPath == "" {
		http.Error(w, "missing multipart field \"target_path\"", http.StatusBadRequest)
		return
	}
	unpack := r.FormValue("unzip") == "true"

	tmpDir, err := os.MkdirTemp("", "swerex-upload-*")
	if err != nil {
		writeError(w, types.NewFileOpError("upload", targetPath, err))
		return
	}
	defer os.RemoveAll(tmpDir)

	spooled := filepath.Join(tmpDir, filepath.Base(header.Filename))
	out, err := os.Create(spooled)
	if err != nil {
		writeError(w, types.NewFileOpError("upload", targetPath, err))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, types.NewFileOpError("upload", targetPath, err))
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, types.NewFileOpError("upload", targetPath, err))
		return
	}

	resp, err := s.runtime.Upload(r.Context(), spooled, targetPath, unpack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	resp, err := s.runtime.Close(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
