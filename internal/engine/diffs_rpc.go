package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"triforge/engine/internal/conversation"
	"triforge/engine/internal/diff"
	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/workspace"
)

func (e *Engine) DiffsList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "invalid params")
	}
	if _, ok := e.registry.Lookup(req.AgentID); !ok {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "unknown agent: "+req.AgentID)
	}
	e.mu.Lock()
	diffs := e.state.Diffs(req.AgentID)
	e.mu.Unlock()
	if diffs == nil {
		diffs = []conversation.FileDiff{}
	}
	return map[string]any{"agentId": req.AgentID, "diffs": diffs}, nil
}

// DiffsPreview renders the tracked diff as line hunks for review. Oversized
// blobs are reported truncated instead of rendered.
func (e *Engine) DiffsPreview(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentID  string `json:"agentId"`
		FilePath string `json:"filePath"`
		MaxLines int    `json:"maxLines"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "invalid params")
	}
	fd, errInfo := e.lookupDiff(req.AgentID, req.FilePath)
	if errInfo != nil {
		return nil, errInfo
	}
	hunks, truncated := diff.TextDiffWithLimit(fd.OldContent, fd.NewContent, req.MaxLines)
	if hunks == nil {
		hunks = []diff.Hunk{}
	}
	return map[string]any{
		"agentId":   fd.AgentID,
		"filePath":  fd.FilePath,
		"status":    fd.Status,
		"additions": fd.Additions,
		"deletions": fd.Deletions,
		"hunks":     hunks,
		"truncated": truncated,
	}, nil
}

// DiffApply writes the diff's new content to the workspace, then marks the
// diff applied. A store failure leaves the diff pending so the user can
// retry.
func (e *Engine) DiffApply(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentID  string `json:"agentId"`
		FilePath string `json:"filePath"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "invalid params")
	}
	fd, errInfo := e.lookupDiff(req.AgentID, req.FilePath)
	if errInfo != nil {
		return nil, errInfo
	}
	if fd.Status != conversation.DiffPending {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "diff is not pending")
	}

	if err := e.workspaceStore().Write(fd.FilePath, fd.NewContent); err != nil {
		if errors.Is(err, workspace.ErrInvalidPath) {
			return nil, errinfo.InvalidPath(errinfo.PhaseApply, fd.FilePath, err.Error())
		}
		info := errinfo.FileWriteFailed(errinfo.PhaseApply, fd.FilePath, err.Error())
		info.Subphase = errinfo.SubphaseWrite
		return nil, info
	}

	updated, errInfo := e.markDiff(req.AgentID, req.FilePath, conversation.DiffApplied)
	if errInfo != nil {
		return nil, errInfo
	}
	e.logger.Debug("engine.diff_applied", "agent_id", req.AgentID, "path", fd.FilePath)
	return map[string]any{"diff": updated}, nil
}

// DiffReject restores the file's pre-proposal content, then marks the diff
// rejected. A diff whose old side is empty undoes a creation, so the file is
// deleted; deleting an already-missing file still counts as restored.
func (e *Engine) DiffReject(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentID  string `json:"agentId"`
		FilePath string `json:"filePath"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "invalid params")
	}
	fd, errInfo := e.lookupDiff(req.AgentID, req.FilePath)
	if errInfo != nil {
		return nil, errInfo
	}
	if fd.Status != conversation.DiffPending {
		return nil, errinfo.ValidationFailed(errinfo.PhaseApply, "diff is not pending")
	}

	store := e.workspaceStore()
	var err error
	if fd.OldContent == "" {
		err = store.Delete(fd.FilePath)
		if errors.Is(err, workspace.ErrNotFound) {
			err = nil
		}
	} else {
		err = store.Write(fd.FilePath, fd.OldContent)
	}
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidPath) {
			return nil, errinfo.InvalidPath(errinfo.PhaseApply, fd.FilePath, err.Error())
		}
		info := errinfo.FileWriteFailed(errinfo.PhaseApply, fd.FilePath, err.Error())
		info.Subphase = errinfo.SubphaseRevert
		return nil, info
	}

	updated, errInfo := e.markDiff(req.AgentID, req.FilePath, conversation.DiffRejected)
	if errInfo != nil {
		return nil, errInfo
	}
	e.logger.Debug("engine.diff_rejected", "agent_id", req.AgentID, "path", fd.FilePath)
	return map[string]any{"diff": updated}, nil
}

func (e *Engine) lookupDiff(agentID, filePath string) (conversation.FileDiff, *errinfo.ErrorInfo) {
	if strings.TrimSpace(agentID) == "" || strings.TrimSpace(filePath) == "" {
		return conversation.FileDiff{}, errinfo.ValidationFailed(errinfo.PhaseApply, "agentId and filePath are required")
	}
	e.mu.Lock()
	fd, err := e.state.DiffByPath(agentID, filePath)
	e.mu.Unlock()
	if err != nil {
		return conversation.FileDiff{}, errinfo.FileNotFound(errinfo.PhaseApply, filePath)
	}
	return fd, nil
}

func (e *Engine) markDiff(agentID, filePath string, status conversation.DiffStatus) (conversation.FileDiff, *errinfo.ErrorInfo) {
	e.mu.Lock()
	updated, err := e.state.MarkDiff(agentID, filePath, status)
	e.mu.Unlock()
	switch {
	case errors.Is(err, conversation.ErrDiffNotFound):
		return conversation.FileDiff{}, errinfo.FileNotFound(errinfo.PhaseApply, filePath)
	case errors.Is(err, conversation.ErrDiffNotPending):
		return conversation.FileDiff{}, errinfo.ValidationFailed(errinfo.PhaseApply, "diff is not pending")
	case err != nil:
		return conversation.FileDiff{}, errinfo.ValidationFailed(errinfo.PhaseApply, err.Error())
	}
	return updated, nil
}
