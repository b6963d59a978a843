package engine

import (
	"context"
	"encoding/json"

	"triforge/engine/internal/conversation"
	"triforge/engine/internal/errinfo"
)

// StateGetSnapshot returns a deep copy of the aggregate conversation state.
// New UI clients hydrate from this before subscribing to frames.
func (e *Engine) StateGetSnapshot(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.mu.Lock()
	view := e.state.View()
	e.mu.Unlock()
	return view, nil
}

func (e *Engine) ConversationGetTurns(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "invalid params")
	}
	if _, ok := e.registry.Lookup(req.AgentID); !ok {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "unknown agent: "+req.AgentID)
	}
	e.mu.Lock()
	turns := e.state.Turns(req.AgentID)
	e.mu.Unlock()
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return map[string]any{"agentId": req.AgentID, "turns": turns}, nil
}

// HistoryList returns persisted terminal turns, oldest first, optionally
// filtered by agent and capped to the most recent limit entries.
func (e *Engine) HistoryList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentID string `json:"agentId"`
		Limit   int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "invalid params")
	}
	turns, err := e.history.List(req.AgentID, req.Limit)
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseBroadcast, historyFileName, err.Error())
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return map[string]any{"turns": turns}, nil
}
