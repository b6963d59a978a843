package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

type FrameType string

const (
	FrameStatus FrameType = "status"
	FrameAction FrameType = "action"
	FrameError  FrameType = "error"
	FrameDone   FrameType = "done"
)

// ErrAgentMismatch marks a protocol violation: the frame envelope and its
// embedded action name different agents.
var ErrAgentMismatch = errors.New("frame agent id mismatch")

// Frame is one decoded unit of the streaming protocol, a closed union over
// the four frame types. Phase is set on status frames, Action on action
// frames, Code and Message on error frames.
type Frame struct {
	Type      FrameType `json:"type"`
	AgentID   string    `json:"agentId"`
	RequestID string    `json:"requestId"`
	Phase     Phase     `json:"phase,omitempty"`
	Action    *Action   `json:"action,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// DecodeFrame parses and validates one frame. Unknown extra fields are
// ignored; missing required fields reject the frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (f Frame) Validate() error {
	if f.AgentID == "" {
		return errors.New("frame missing agentId")
	}
	if f.RequestID == "" {
		return errors.New("frame missing requestId")
	}
	switch f.Type {
	case FrameStatus:
		switch f.Phase {
		case PhaseStreaming, PhaseCompleted, PhaseError:
		default:
			return fmt.Errorf("status frame has invalid phase %q", f.Phase)
		}
	case FrameAction:
		if f.Action == nil {
			return errors.New("action frame missing action")
		}
		if f.Action.ID == "" {
			return errors.New("action missing id")
		}
		if !validActionType(f.Action.Type) {
			return fmt.Errorf("unknown action type %q", f.Action.Type)
		}
		if f.Action.AgentID != "" && f.Action.AgentID != f.AgentID {
			return fmt.Errorf("%w: envelope %q action %q", ErrAgentMismatch, f.AgentID, f.Action.AgentID)
		}
	case FrameError:
		if f.Message == "" {
			return errors.New("error frame missing message")
		}
	case FrameDone:
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	return nil
}
