// Package conversation holds the authoritative per-agent state: turns, their
// streamed actions, and the pending/applied/rejected lifecycle of proposed
// file diffs. All mutation goes through the State reducer.
package conversation

import (
	"encoding/json"
	"time"
)

type TurnStatus string

const (
	TurnStreaming TurnStatus = "streaming"
	TurnPaused    TurnStatus = "paused"
	TurnCompleted TurnStatus = "completed"
	TurnError     TurnStatus = "error"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

type ActionType string

const (
	ActionMessage    ActionType = "message"
	ActionToolCall   ActionType = "tool_call"
	ActionFileEdit   ActionType = "file_edit"
	ActionFileCreate ActionType = "file_create"
	ActionFileDelete ActionType = "file_delete"
	ActionCommand    ActionType = "command"
)

type DiffStatus string

const (
	DiffPending  DiffStatus = "pending"
	DiffApplied  DiffStatus = "applied"
	DiffRejected DiffStatus = "rejected"
)

// PausedByUserMessage is the synthetic explanation stamped on turns that a
// user pause interrupted.
const PausedByUserMessage = "Paused by user"

// Turn is one prompt submission scoped to one agent.
type Turn struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agentId"`
	RequestID string     `json:"requestId"`
	Prompt    string     `json:"prompt"`
	Timestamp time.Time  `json:"timestamp"`
	Actions   []Action   `json:"actions"`
	Status    TurnStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// TurnID builds the composite turn identifier, unique per agent per request.
func TurnID(requestID, agentID string) string {
	return requestID + "-" + agentID
}

// Action is one observable event within a turn. The id is stable across
// updates: a streamed message is repeatedly replaced in place as text grows.
type Action struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	Type      ActionType      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Content   string          `json:"content"`
	Metadata  *ActionMetadata `json:"metadata,omitempty"`
}

// ActionMetadata carries the typed payload of non-message actions. Old and
// new content are pointers: presence is significant (an empty oldContent on a
// file action means "file did not exist", which is distinct from absent).
type ActionMetadata struct {
	ToolName        string          `json:"toolName,omitempty"`
	ToolParams      json.RawMessage `json:"toolParams,omitempty"`
	FileName        string          `json:"fileName,omitempty"`
	FilePath        string          `json:"filePath,omitempty"`
	OldContent      *string         `json:"oldContent,omitempty"`
	NewContent      *string         `json:"newContent,omitempty"`
	Command         string          `json:"command,omitempty"`
	ExecutionStatus string          `json:"executionStatus,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// FileDiff is a proposed change to one workspace-relative path. Additions and
// deletions are always computed, never hand-set.
type FileDiff struct {
	FilePath   string     `json:"filePath"`
	OldContent string     `json:"oldContent"`
	NewContent string     `json:"newContent"`
	Additions  int        `json:"additions"`
	Deletions  int        `json:"deletions"`
	Status     DiffStatus `json:"status"`
	AgentID    string     `json:"agentId"`
}

func validActionType(t ActionType) bool {
	switch t {
	case ActionMessage, ActionToolCall, ActionFileEdit, ActionFileCreate, ActionFileDelete, ActionCommand:
		return true
	}
	return false
}
