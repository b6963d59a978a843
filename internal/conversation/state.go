package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"triforge/engine/internal/diff"
	"triforge/engine/internal/workspace"
)

var (
	ErrDiffNotFound   = errors.New("diff not found")
	ErrDiffNotPending = errors.New("diff is not pending")
)

// State is the conversation aggregate: one record per agent, mutated only
// through reducer methods. It performs no I/O and is not safe for concurrent
// use; the engine serializes access.
type State struct {
	agents          map[string]*agentState
	order           []string
	activeRequestID string
	currentError    string
	connected       bool
}

type agentState struct {
	agentID         string
	phase           Phase
	activeRequestID string
	turns           []Turn
	diffs           []FileDiff
}

func NewState() *State {
	return &State{agents: make(map[string]*agentState)}
}

func (s *State) agent(id string) *agentState {
	if a, ok := s.agents[id]; ok {
		return a
	}
	a := &agentState{agentID: id, phase: PhaseIdle}
	s.agents[id] = a
	s.order = append(s.order, id)
	return a
}

// BeginTurn registers one turn per agent for a new request and moves each
// agent to streaming. Frames tagged with any prior request become stale.
func (s *State) BeginTurn(requestID, prompt string, agentIDs []string, now time.Time) {
	s.activeRequestID = requestID
	s.currentError = ""
	for _, agentID := range agentIDs {
		a := s.agent(agentID)
		a.activeRequestID = requestID
		a.phase = PhaseStreaming
		a.turns = append(a.turns, Turn{
			ID:        TurnID(requestID, agentID),
			AgentID:   agentID,
			RequestID: requestID,
			Prompt:    prompt,
			Timestamp: now.UTC(),
			Actions:   []Action{},
			Status:    TurnStreaming,
		})
	}
}

// ApplyFrame folds one frame into the aggregate. Frames whose requestId does
// not match the agent's active request, or whose turn already reached a
// terminal status, are discarded without mutation; the bool reports whether
// the frame was applied.
func (s *State) ApplyFrame(f Frame) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, err
	}
	a, ok := s.agents[f.AgentID]
	if !ok {
		return false, nil
	}
	if f.RequestID != a.activeRequestID {
		return false, nil
	}
	turn := a.activeTurn()
	if turn == nil {
		return false, nil
	}
	if turn.Status != TurnStreaming {
		return false, nil
	}
	switch f.Type {
	case FrameStatus:
		a.phase = f.Phase
		switch f.Phase {
		case PhaseStreaming:
			turn.Status = TurnStreaming
		case PhaseCompleted:
			turn.Status = TurnCompleted
		case PhaseError:
			turn.Status = TurnError
		}
	case FrameAction:
		action := *f.Action
		if action.AgentID == "" {
			action.AgentID = f.AgentID
		}
		turn.upsertAction(action)
		a.materializeDiff(action)
	case FrameError:
		a.phase = PhaseError
		turn.Status = TurnError
		turn.Error = f.Message
		s.currentError = f.Message
	case FrameDone:
		a.phase = PhaseCompleted
		turn.Status = TurnCompleted
	}
	return true, nil
}

func (a *agentState) activeTurn() *Turn {
	for i := len(a.turns) - 1; i >= 0; i-- {
		if a.turns[i].RequestID == a.activeRequestID {
			return &a.turns[i]
		}
	}
	return nil
}

// upsertAction replaces a same-id action in place, preserving its position;
// a new id appends.
func (t *Turn) upsertAction(action Action) {
	for i := range t.Actions {
		if t.Actions[i].ID == action.ID {
			t.Actions[i] = action
			return
		}
	}
	t.Actions = append(t.Actions, action)
}

// materializeDiff turns a file action carrying both content sides into a
// tracked FileDiff. A re-proposal for the same path overwrites the previous
// entry in place and resets it to pending.
func (a *agentState) materializeDiff(action Action) {
	if action.Type != ActionFileEdit && action.Type != ActionFileCreate {
		return
	}
	meta := action.Metadata
	if meta == nil || meta.OldContent == nil || meta.NewContent == nil {
		return
	}
	filePath := meta.FilePath
	if filePath == "" {
		filePath = meta.FileName
	}
	if filePath == "" {
		return
	}
	stats := diff.Count(*meta.OldContent, *meta.NewContent)
	entry := FileDiff{
		FilePath:   filePath,
		OldContent: *meta.OldContent,
		NewContent: *meta.NewContent,
		Additions:  stats.Additions,
		Deletions:  stats.Deletions,
		Status:     DiffPending,
		AgentID:    a.agentID,
	}
	for i := range a.diffs {
		if workspace.SamePath(a.diffs[i].FilePath, filePath) {
			a.diffs[i] = entry
			return
		}
	}
	a.diffs = append(a.diffs, entry)
}

// PauseStreaming moves every streaming agent to paused and stamps its active
// turn with the synthetic pause explanation. Agents in any other phase are
// untouched. Returns the affected agent ids.
func (s *State) PauseStreaming() []string {
	var paused []string
	for _, agentID := range s.order {
		a := s.agents[agentID]
		if a.phase != PhaseStreaming {
			continue
		}
		a.phase = PhasePaused
		if turn := a.activeTurn(); turn != nil {
			turn.Status = TurnPaused
			turn.Error = PausedByUserMessage
		}
		paused = append(paused, agentID)
	}
	return paused
}

// DiffByPath returns the tracked diff for (agentID, filePath). Path spelling
// variants ("./x", "workspace/x") address the same diff.
func (s *State) DiffByPath(agentID, filePath string) (FileDiff, error) {
	a, ok := s.agents[agentID]
	if !ok {
		return FileDiff{}, ErrDiffNotFound
	}
	for i := range a.diffs {
		if workspace.SamePath(a.diffs[i].FilePath, filePath) {
			return a.diffs[i], nil
		}
	}
	return FileDiff{}, ErrDiffNotFound
}

// MarkDiff finalizes a pending diff. The engine calls this only after the
// workspace write or revert succeeded; only pending diffs may transition.
func (s *State) MarkDiff(agentID, filePath string, status DiffStatus) (FileDiff, error) {
	if status != DiffApplied && status != DiffRejected {
		return FileDiff{}, fmt.Errorf("invalid diff status %q", status)
	}
	a, ok := s.agents[agentID]
	if !ok {
		return FileDiff{}, ErrDiffNotFound
	}
	for i := range a.diffs {
		if !workspace.SamePath(a.diffs[i].FilePath, filePath) {
			continue
		}
		if a.diffs[i].Status != DiffPending {
			return FileDiff{}, ErrDiffNotPending
		}
		a.diffs[i].Status = status
		return a.diffs[i], nil
	}
	return FileDiff{}, ErrDiffNotFound
}

// AnyStreaming reports whether any agent is currently streaming.
func (s *State) AnyStreaming() bool {
	for _, a := range s.agents {
		if a.phase == PhaseStreaming {
			return true
		}
	}
	return false
}

// AllDone reports whether every agent participating in the active request
// reached a terminal phase (completed or error).
func (s *State) AllDone() bool {
	if s.activeRequestID == "" {
		return false
	}
	tracked := 0
	for _, a := range s.agents {
		if a.activeRequestID != s.activeRequestID {
			continue
		}
		tracked++
		if a.phase != PhaseCompleted && a.phase != PhaseError {
			return false
		}
	}
	return tracked > 0
}

func (s *State) ActiveRequestID() string {
	return s.activeRequestID
}

func (s *State) CurrentError() string {
	return s.currentError
}

// SetConnected records the most recent transport-level connectivity signal
// across all sessions. Returns true when the value changed.
func (s *State) SetConnected(connected bool) bool {
	if s.connected == connected {
		return false
	}
	s.connected = connected
	return true
}

func (s *State) Connected() bool {
	return s.connected
}

// Turns returns a deep copy of the agent's turns, oldest first.
func (s *State) Turns(agentID string) []Turn {
	a, ok := s.agents[agentID]
	if !ok {
		return []Turn{}
	}
	return copyTurns(a.turns)
}

// Diffs returns a copy of the agent's tracked diffs in proposal order.
func (s *State) Diffs(agentID string) []FileDiff {
	a, ok := s.agents[agentID]
	if !ok {
		return []FileDiff{}
	}
	return append([]FileDiff{}, a.diffs...)
}

func (s *State) Phase(agentID string) Phase {
	a, ok := s.agents[agentID]
	if !ok {
		return PhaseIdle
	}
	return a.phase
}

// AgentView is a read-only snapshot of one agent's slice of the aggregate.
type AgentView struct {
	AgentID         string     `json:"agentId"`
	Phase           Phase      `json:"phase"`
	ActiveRequestID string     `json:"activeRequestId,omitempty"`
	Turns           []Turn     `json:"turns"`
	Diffs           []FileDiff `json:"diffs"`
}

// StateView is a read-only deep-copied snapshot of the whole aggregate.
type StateView struct {
	Agents          map[string]AgentView `json:"agents"`
	ActiveRequestID string               `json:"activeRequestId,omitempty"`
	CurrentError    string               `json:"currentError,omitempty"`
	Connected       bool                 `json:"connected"`
}

func (s *State) View() StateView {
	view := StateView{
		Agents:          make(map[string]AgentView, len(s.agents)),
		ActiveRequestID: s.activeRequestID,
		CurrentError:    s.currentError,
		Connected:       s.connected,
	}
	for _, agentID := range s.order {
		a := s.agents[agentID]
		view.Agents[agentID] = AgentView{
			AgentID:         a.agentID,
			Phase:           a.phase,
			ActiveRequestID: a.activeRequestID,
			Turns:           copyTurns(a.turns),
			Diffs:           append([]FileDiff{}, a.diffs...),
		}
	}
	return view
}

func copyTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		actions := make([]Action, len(turn.Actions))
		for j, action := range turn.Actions {
			actions[j] = copyAction(action)
		}
		turn.Actions = actions
		out[i] = turn
	}
	return out
}

func copyAction(action Action) Action {
	if action.Metadata == nil {
		return action
	}
	meta := *action.Metadata
	if meta.OldContent != nil {
		v := *meta.OldContent
		meta.OldContent = &v
	}
	if meta.NewContent != nil {
		v := *meta.NewContent
		meta.NewContent = &v
	}
	if len(meta.ToolParams) > 0 {
		meta.ToolParams = append(json.RawMessage(nil), meta.ToolParams...)
	}
	action.Metadata = &meta
	return action
}
