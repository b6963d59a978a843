package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"triforge/engine/internal/conversation"
)

const historyFileName = "turns.jsonl"

// historyLog appends terminal turns to a JSONL file, one record per line.
// Records are never rewritten; empty turns with no actions and no error are
// not worth keeping and are skipped.
type historyLog struct {
	dir string
	mu  sync.Mutex
}

func newHistoryLog(dir string) *historyLog {
	return &historyLog{dir: dir}
}

func (h *historyLog) path() string {
	return filepath.Join(h.dir, historyFileName)
}

func (h *historyLog) Append(turn conversation.Turn) error {
	if len(turn.Actions) == 0 && turn.Error == "" {
		return nil
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(h.path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List reads back persisted turns in append order. agentID filters when
// non-empty; limit keeps only the most recent entries when positive.
// Malformed lines are skipped rather than failing the whole read.
func (h *historyLog) List(agentID string, limit int) ([]conversation.Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.Open(h.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var turns []conversation.Turn
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var turn conversation.Turn
		if err := json.Unmarshal(line, &turn); err != nil {
			continue
		}
		if agentID != "" && turn.AgentID != agentID {
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
