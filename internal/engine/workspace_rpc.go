package engine

import (
	"context"
	"encoding/json"
	"errors"

	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/workspace"
)

func (e *Engine) WorkspaceReadFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "invalid params")
	}
	content, err := e.workspaceStore().Read(req.Path)
	if err != nil {
		return nil, mapStoreError(err, req.Path, errinfo.CodeFileReadFailed)
	}
	return map[string]any{"path": req.Path, "content": content}, nil
}

// WorkspaceWriteFile persists editor content. With autosave set the write is
// debounced through the autosaver instead of hitting the store immediately.
func (e *Engine) WorkspaceWriteFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path     string `json:"path"`
		Content  string `json:"content"`
		Autosave bool   `json:"autosave"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "invalid params")
	}
	if req.Autosave {
		if err := e.autosave.Set(req.Path, req.Content); err != nil {
			return nil, mapStoreError(err, req.Path, errinfo.CodeFileWriteFailed)
		}
		return map[string]any{"path": req.Path, "scheduled": true}, nil
	}
	if err := e.workspaceStore().Write(req.Path, req.Content); err != nil {
		return nil, mapStoreError(err, req.Path, errinfo.CodeFileWriteFailed)
	}
	return map[string]any{"path": req.Path, "written": true}, nil
}

func (e *Engine) WorkspaceDeleteFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "invalid params")
	}
	if err := e.workspaceStore().Delete(req.Path); err != nil {
		return nil, mapStoreError(err, req.Path, errinfo.CodeFileWriteFailed)
	}
	e.logger.Debug("engine.workspace_delete", "path", req.Path)
	return map[string]any{"path": req.Path, "deleted": true}, nil
}

func (e *Engine) WorkspaceListFiles(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Dir string `json:"dir"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "invalid params")
	}
	entries, err := e.workspaceStore().List(req.Dir)
	if err != nil {
		return nil, mapStoreError(err, req.Dir, errinfo.CodeFileReadFailed)
	}
	if entries == nil {
		entries = []workspace.Entry{}
	}
	return map[string]any{"dir": req.Dir, "files": entries}, nil
}

func (e *Engine) WorkspaceFileExists(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorkspace, "invalid params")
	}
	exists, err := e.workspaceStore().Exists(req.Path)
	if err != nil {
		return nil, mapStoreError(err, req.Path, errinfo.CodeFileReadFailed)
	}
	return map[string]any{"path": req.Path, "exists": exists}, nil
}

// WorkspaceClear flushes pending autosaves, then removes every file.
func (e *Engine) WorkspaceClear(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.autosave.Flush(); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseWorkspace, "", err.Error())
	}
	if err := e.workspaceStore().Clear(); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseWorkspace, "", err.Error())
	}
	e.logger.Debug("engine.workspace_cleared")
	return map[string]any{"cleared": true}, nil
}

// mapStoreError translates a workspace store error into the structured
// envelope, falling back to fallbackCode for unrecognized failures.
func mapStoreError(err error, path, fallbackCode string) *errinfo.ErrorInfo {
	switch {
	case errors.Is(err, workspace.ErrInvalidPath):
		return errinfo.InvalidPath(errinfo.PhaseWorkspace, path, err.Error())
	case errors.Is(err, workspace.ErrNotFound):
		return errinfo.FileNotFound(errinfo.PhaseWorkspace, path)
	case fallbackCode == errinfo.CodeFileReadFailed:
		return errinfo.FileReadFailed(errinfo.PhaseWorkspace, path, err.Error())
	default:
		return errinfo.FileWriteFailed(errinfo.PhaseWorkspace, path, err.Error())
	}
}
