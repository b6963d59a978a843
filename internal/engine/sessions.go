package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"

	"triforge/engine/internal/agents"
	"triforge/engine/internal/conversation"
	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/extract"
	"triforge/engine/internal/gateway"
	"triforge/engine/internal/settings"
	"triforge/engine/internal/workspace"
)

// PromptBroadcast fans one prompt out to the selected agents. Each agent gets
// its own session goroutine; a prior in-flight session for the same agent is
// canceled and superseded. Returns immediately with the new request id.
func (e *Engine) PromptBroadcast(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Prompt    string   `json:"prompt"`
		AgentIDs  []string `json:"agentIds"`
		RequestID string   `json:"requestId"`
		Images    []string `json:"images"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "invalid params")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "prompt must not be empty")
	}

	cfg, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "settings.json", err.Error())
	}
	promptTokens := gateway.EstimateTokensSimple(prompt)
	if cfg.MaxPromptTokens > 0 && promptTokens > cfg.MaxPromptTokens {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast,
			fmt.Sprintf("prompt is %d tokens, limit is %d", promptTokens, cfg.MaxPromptTokens))
	}

	selected, errInfo := e.resolveAgents(req.AgentIDs, cfg)
	if errInfo != nil {
		return nil, errInfo
	}

	apiKey, err := e.secrets.GetGatewayKey()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "secrets.enc", err.Error())
	}
	if apiKey == "" {
		return nil, errinfo.GatewayNotConfigured(errinfo.PhaseBroadcast)
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = e.newRequestID()
	}

	agentIDs := make([]string, 0, len(selected))
	for _, agent := range selected {
		agentIDs = append(agentIDs, agent.ID)
	}

	e.mu.Lock()
	if requestID == e.state.ActiveRequestID() {
		e.mu.Unlock()
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "requestId is already active")
	}
	e.state.BeginTurn(requestID, prompt, agentIDs, e.now())
	e.allDoneEmitted = ""
	gw := e.gateway
	e.mu.Unlock()

	e.logger.Debug("engine.prompt_broadcast",
		"request_id", requestID,
		"agents", agentIDs,
		"prompt_tokens", promptTokens,
		"images", len(req.Images))

	for _, agent := range selected {
		runCtx := e.beginRun(agent.ID, requestID)
		e.sessions.Add(1)
		go e.streamAgent(runCtx, gw, agent, requestID, prompt, apiKey, req.Images)
	}

	turnIDs := make([]string, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		turnIDs = append(turnIDs, conversation.TurnID(requestID, agentID))
	}
	return map[string]any{
		"requestId": requestID,
		"agentIds":  agentIDs,
		"turnIds":   turnIDs,
	}, nil
}

// PromptPause cancels every live session and marks still-streaming agents
// paused. Canceled sessions emit nothing further; agents that already
// finished keep their result.
func (e *Engine) PromptPause(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	canceled := e.cancelAllRuns()

	e.mu.Lock()
	paused := e.state.PauseStreaming()
	requestID := e.state.ActiveRequestID()
	emit := len(paused) > 0 && requestID != "" && e.allDoneEmitted != requestID
	if emit {
		e.allDoneEmitted = requestID
	}
	var pausedTurns []conversation.Turn
	for _, agentID := range paused {
		if turn := e.turnSnapshotLocked(agentID, requestID); turn != nil {
			pausedTurns = append(pausedTurns, *turn)
		}
	}
	notify := e.notify
	e.mu.Unlock()

	e.logger.Debug("engine.prompt_pause", "canceled_runs", canceled, "paused_agents", paused)
	for _, turn := range pausedTurns {
		if err := e.history.Append(turn); err != nil {
			e.logger.Warn("engine.history_append_failed", "turn_id", turn.ID, "error", err.Error())
		}
	}
	if emit && notify != nil {
		notify(NotifyStreamAllDone, map[string]any{"requestId": requestID, "paused": true})
	}
	if paused == nil {
		paused = []string{}
	}
	return map[string]any{"pausedAgentIds": paused}, nil
}

func (e *Engine) resolveAgents(ids []string, cfg *settings.Settings) ([]agents.Agent, *errinfo.ErrorInfo) {
	var selected []agents.Agent
	if len(ids) == 0 {
		for _, agent := range e.registry.List() {
			if as, ok := cfg.Agents[agent.ID]; ok && !as.Enabled {
				continue
			}
			selected = append(selected, agent)
		}
		if len(selected) == 0 {
			return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "no agents enabled")
		}
		return selected, nil
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		agent, ok := e.registry.Lookup(id)
		if !ok {
			return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "unknown agent: "+id)
		}
		selected = append(selected, agent)
	}
	if len(selected) == 0 {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBroadcast, "no agents selected")
	}
	return selected, nil
}

// beginRun installs a fresh run handle for the agent, canceling any prior
// one. The returned context governs the whole session.
func (e *Engine) beginRun(agentID, requestID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if prior, ok := e.runs[agentID]; ok {
		prior.cancel()
		e.logger.Debug("engine.run_superseded",
			"agent_id", agentID,
			"prior_request_id", prior.requestID,
			"request_id", requestID)
	}
	e.runs[agentID] = runHandle{requestID: requestID, cancel: cancel}
	return ctx
}

// endRun releases the agent's handle, but only if it still belongs to the
// finishing request. A superseding run must not be torn down by its
// predecessor's deferred cleanup.
func (e *Engine) endRun(agentID, requestID string) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	handle, ok := e.runs[agentID]
	if !ok || handle.requestID != requestID {
		return
	}
	handle.cancel()
	delete(e.runs, agentID)
}

func (e *Engine) cancelAllRuns() []string {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	canceled := make([]string, 0, len(e.runs))
	for agentID, handle := range e.runs {
		handle.cancel()
		delete(e.runs, agentID)
		canceled = append(canceled, agentID)
	}
	return canceled
}

// streamAgent runs one agent session: stream deltas into a single message
// action, then extract file operations from the final text, then close the
// turn. After cancellation the session emits nothing; the pause path already
// stamped the turn.
func (e *Engine) streamAgent(ctx context.Context, gw Streamer, agent agents.Agent, requestID, prompt, apiKey string, images []string) {
	defer e.sessions.Done()
	defer e.endRun(agent.ID, requestID)

	if ctx.Err() != nil {
		return
	}
	e.applyAndEmit(conversation.Frame{
		Type:      conversation.FrameStatus,
		AgentID:   agent.ID,
		RequestID: requestID,
		Phase:     conversation.PhaseStreaming,
	})

	messageID := e.newActionID()
	messageAt := e.now().UTC()
	var text strings.Builder
	onDelta := func(delta string) {
		if delta == "" || ctx.Err() != nil {
			return
		}
		text.WriteString(delta)
		e.applyAndEmit(conversation.Frame{
			Type:      conversation.FrameAction,
			AgentID:   agent.ID,
			RequestID: requestID,
			Action: &conversation.Action{
				ID:        messageID,
				AgentID:   agent.ID,
				Type:      conversation.ActionMessage,
				Timestamp: messageAt,
				Content:   text.String(),
			},
		})
	}

	full, err := gw.StreamChat(ctx, apiKey, gateway.Request{
		AgentID:   agent.ID,
		Model:     agent.Model,
		Prompt:    prompt,
		RequestID: requestID,
		Images:    images,
	}, onDelta)
	if ctx.Err() != nil {
		e.logger.Debug("engine.session_canceled", "agent_id", agent.ID, "request_id", requestID)
		return
	}
	if err != nil {
		e.applyAndEmit(e.errorFrame(agent.ID, requestID, err))
		e.emitAllDone()
		return
	}
	e.setConnected(true)

	for _, op := range extract.Operations(full) {
		if ctx.Err() != nil {
			return
		}
		if _, err := workspace.Normalize(op.Path); err != nil {
			e.logger.Warn("engine.extract_bad_path", "agent_id", agent.ID, "path", op.Path, "error", err.Error())
			continue
		}
		e.applyAndEmit(e.fileOpFrame(agent.ID, requestID, op))
	}

	if ctx.Err() != nil {
		return
	}
	e.applyAndEmit(conversation.Frame{
		Type:      conversation.FrameDone,
		AgentID:   agent.ID,
		RequestID: requestID,
	})
	e.emitAllDone()
}

// fileOpFrame builds the action frame for one extracted file operation. The
// current store content becomes the diff's old side; empty means the file
// does not exist yet.
func (e *Engine) fileOpFrame(agentID, requestID string, op extract.Operation) conversation.Frame {
	oldContent := ""
	if current, err := e.workspaceStore().Read(op.Path); err == nil {
		oldContent = current
	} else if !errors.Is(err, workspace.ErrNotFound) {
		e.logger.Warn("engine.extract_read_failed", "agent_id", agentID, "path", op.Path, "error", err.Error())
	}

	actionType := conversation.ActionFileEdit
	verb := "Edit"
	if op.Kind == extract.KindCreate {
		actionType = conversation.ActionFileCreate
		verb = "Create"
	}
	newContent := op.Content
	rel, _ := workspace.Normalize(op.Path)
	return conversation.Frame{
		Type:      conversation.FrameAction,
		AgentID:   agentID,
		RequestID: requestID,
		Action: &conversation.Action{
			ID:        e.newActionID(),
			AgentID:   agentID,
			Type:      actionType,
			Timestamp: e.now().UTC(),
			Content:   fmt.Sprintf("%s %s", verb, op.Path),
			Metadata: &conversation.ActionMetadata{
				FileName:   path.Base(rel),
				FilePath:   op.Path,
				OldContent: &oldContent,
				NewContent: &newContent,
			},
		},
	}
}

// applyAndEmit folds a frame into the state and, when the reducer accepts
// it, forwards it to the host and persists newly terminal turns. Rejected or
// stale frames go no further, so downstream consumers only ever see frames
// the authoritative state absorbed.
func (e *Engine) applyAndEmit(frame conversation.Frame) {
	e.mu.Lock()
	applied, err := e.state.ApplyFrame(frame)
	var terminal *conversation.Turn
	if applied && (frame.Type == conversation.FrameDone || frame.Type == conversation.FrameError) {
		terminal = e.turnSnapshotLocked(frame.AgentID, frame.RequestID)
	}
	notify := e.notify
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("engine.frame_rejected",
			"agent_id", frame.AgentID,
			"request_id", frame.RequestID,
			"type", string(frame.Type),
			"error", err.Error())
		return
	}
	if !applied {
		e.logger.Debug("engine.frame_stale",
			"agent_id", frame.AgentID,
			"request_id", frame.RequestID,
			"type", string(frame.Type))
		return
	}
	if notify != nil {
		notify(NotifyStreamFrame, frame)
	}
	if terminal != nil {
		if err := e.history.Append(*terminal); err != nil {
			e.logger.Warn("engine.history_append_failed", "turn_id", terminal.ID, "error", err.Error())
		}
	}
}

// turnSnapshotLocked returns a copy of the agent's turn for requestID.
// Callers hold e.mu.
func (e *Engine) turnSnapshotLocked(agentID, requestID string) *conversation.Turn {
	turns := e.state.Turns(agentID)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].RequestID == requestID {
			return &turns[i]
		}
	}
	return nil
}

// emitAllDone fires StreamAllDone exactly once per request, when every
// tracked agent has reached a terminal phase.
func (e *Engine) emitAllDone() {
	e.mu.Lock()
	requestID := e.state.ActiveRequestID()
	emit := e.state.AllDone() && requestID != "" && e.allDoneEmitted != requestID
	if emit {
		e.allDoneEmitted = requestID
	}
	notify := e.notify
	e.mu.Unlock()
	if emit && notify != nil {
		notify(NotifyStreamAllDone, map[string]any{"requestId": requestID, "paused": false})
	}
}

func (e *Engine) setConnected(connected bool) {
	e.mu.Lock()
	changed := e.state.SetConnected(connected)
	e.mu.Unlock()
	if changed {
		e.logger.Debug("engine.connectivity", "connected", connected)
	}
}

// errorFrame classifies a stream failure into an error frame. Gateway
// responses (auth, rate limit, 5xx) prove the transport works; timeouts and
// raw network failures flip the connectivity indicator off.
func (e *Engine) errorFrame(agentID, requestID string, err error) conversation.Frame {
	code := classifyStreamError(err)
	switch code {
	case errinfo.CodeNetworkUnavailable, errinfo.CodeGatewayTimeout:
		e.setConnected(false)
	case errinfo.CodeGatewayAuthFailed, errinfo.CodeGatewayRateLimited, errinfo.CodeGatewayUnavailable:
		e.setConnected(true)
	}
	e.logger.Warn("engine.stream_failed",
		"agent_id", agentID,
		"request_id", requestID,
		"code", code,
		"error", err.Error())
	return conversation.Frame{
		Type:      conversation.FrameError,
		AgentID:   agentID,
		RequestID: requestID,
		Code:      code,
		Message:   streamErrorMessage(code, err),
	}
}

func classifyStreamError(err error) string {
	switch {
	case errors.Is(err, gateway.ErrEgressBlocked):
		return errinfo.CodeEgressBlocked
	case errors.Is(err, gateway.ErrUnauthorized):
		return errinfo.CodeGatewayAuthFailed
	case errors.Is(err, gateway.ErrRateLimited):
		return errinfo.CodeGatewayRateLimited
	case errors.Is(err, gateway.ErrUnavailable):
		return errinfo.CodeGatewayUnavailable
	case isTimeout(err):
		return errinfo.CodeGatewayTimeout
	default:
		return errinfo.CodeNetworkUnavailable
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func streamErrorMessage(code string, err error) string {
	switch code {
	case errinfo.CodeGatewayAuthFailed:
		return "Gateway authentication failed. Check the gateway API key in settings."
	case errinfo.CodeGatewayRateLimited:
		return "The gateway rate limit was hit. Wait a moment and resubmit."
	case errinfo.CodeGatewayUnavailable:
		return "The gateway is unavailable right now. Retry shortly."
	case errinfo.CodeGatewayTimeout:
		return "The request timed out. The selected model may not support this kind of request."
	case errinfo.CodeEgressBlocked:
		return "The request was blocked by the egress policy."
	default:
		return "Network error while streaming: " + err.Error()
	}
}
