// Package runtime defines the runtime facade: the stateless dispatcher
// between the control surface and the session registry, the one-shot
// executor and the file operations.
package runtime

import (
	"context"

	"github.com/swe-agent/swe-rex/internal/config"
	"github.com/swe-agent/swe-rex/internal/session"
	"github.com/swe-agent/swe-rex/pkg/types"
)

// Runtime is the interface the control surface dispatches to. A remote
// deployment would place a network client behind the same interface.
type Runtime interface {
	IsAlive(ctx context.Context) (*types.IsAliveResponse, error)
	CreateSession(ctx context.Context, req *types.CreateBashSessionRequest) (*types.CreateSessionResponse, error)
	RunInSession(ctx context.Context, action *types.BashAction) (*types.BashObservation, error)
	CloseSession(ctx context.Context, req *types.CloseBashSessionRequest) (*types.CloseSessionResponse, error)
	Execute(ctx context.Context, cmd *types.Command) (*types.CommandResponse, error)
	ReadFile(ctx context.Context, req *types.ReadFileRequest) (*types.ReadFileResponse, error)
	WriteFile(ctx context.Context, req *types.WriteFileRequest) (*types.WriteFileResponse, error)
	Upload(ctx context.Context, sourcePath, targetPath string, unpack bool) (*types.UploadResponse, error)
	Close(ctx context.Context) (*types.CloseResponse, error)
	SessionCount() int
}

// LocalRuntime executes everything on the machine it runs on. When the
// server is deployed into a container or cloud task, this is the
// process inside the sandbox.
type LocalRuntime struct {
	cfg      *config.Config
	registry *session.Registry
}

// NewLocal creates a runtime with an empty session registry.
func NewLocal(cfg *config.Config) *LocalRuntime {
	return &LocalRuntime{
		cfg:      cfg,
		registry: session.NewRegistry(),
	}
}

// IsAlive returns success unconditionally: the process being reachable
// proves it.
func (r *LocalRuntime) IsAlive(ctx context.Context) (*types.IsAliveResponse, error) {
	return &types.IsAliveResponse{IsAlive: true}, nil
}

// CreateSession spawns a new bash session under a unique name. The name
// is registered before the shell starts so concurrent creates with the
// same name cannot both win; a failed start unregisters it again.
func (r *LocalRuntime) CreateSession(ctx context.Context, req *types.CreateBashSessionRequest) (*types.CreateSessionResponse, error) {
	if req.Session == "" {
		req.Session = "default"
	}
	if req.SessionType != "" && req.SessionType != types.SessionTypeBash {
		return nil, types.NewSessionNotInitializedError(req.Session,
			"unknown session type "+string(req.SessionType))
	}

	sess := session.NewBashSession(*req, r.cfg.Session)
	if err := r.registry.Add(req.Session, sess); err != nil {
		return nil, err
	}

	resp, err := sess.Start(ctx)
	if err != nil {
		r.registry.Remove(req.Session)
		return nil, err
	}
	return resp, nil
}

// RunInSession runs a command in an existing session. Serialization per
// session is enforced by the session itself.
func (r *LocalRuntime) RunInSession(ctx context.Context, action *types.BashAction) (*types.BashObservation, error) {
	if action.Session == "" {
		action.Session = "default"
	}
	sess, err := r.registry.Get(action.Session)
	if err != nil {
		return nil, err
	}
	return sess.Run(ctx, action)
}

// CloseSession closes and unregisters a session. Closing twice reports
// SessionDoesNotExistError on the second call.
func (r *LocalRuntime) CloseSession(ctx context.Context, req *types.CloseBashSessionRequest) (*types.CloseSessionResponse, error) {
	if req.Session == "" {
		req.Session = "default"
	}
	if err := r.registry.Remove(req.Session); err != nil {
		return nil, err
	}
	return &types.CloseSessionResponse{SessionType: types.SessionTypeBash}, nil
}

// Close shuts down every session. Idempotent.
func (r *LocalRuntime) Close(ctx context.Context) (*types.CloseResponse, error) {
	r.registry.CloseAll()
	return &types.CloseResponse{}, nil
}

// SessionCount reports the number of live sessions.
func (r *LocalRuntime) SessionCount() int {
	return r.registry.Len()
}
