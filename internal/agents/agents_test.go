package agents

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTrio(t *testing.T) {
	registry := Default()
	ids := registry.IDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(ids))
	}
	for _, id := range []string{AgentClaude, AgentGemini, AgentChatGPT} {
		agent, ok := registry.Lookup(id)
		if !ok {
			t.Fatalf("missing agent %s", id)
		}
		if agent.Label == "" || agent.Model == "" {
			t.Fatalf("agent %s missing label or model: %+v", id, agent)
		}
	}
	if _, ok := registry.Lookup("unknown"); ok {
		t.Fatalf("unexpected lookup hit")
	}
}

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	roster := `agents:
  - id: claude
    label: Claude Sonnet
    model: anthropic/claude-sonnet-4.5
  - id: local
    model: llama-3.3-70b
`
	if err := os.WriteFile(path, []byte(roster), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	registry, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 agents, got %d", got)
	}
	local, ok := registry.Lookup("local")
	if !ok {
		t.Fatalf("missing local agent")
	}
	if local.Label != "local" {
		t.Fatalf("label should default to id, got %q", local.Label)
	}
}

func TestNewRejectsBadRosters(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for empty roster")
	}
	if _, err := New([]Agent{{ID: ""}}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := New([]Agent{{ID: "a"}, {ID: "a"}}); err == nil {
		t.Fatalf("expected error for duplicate id")
	}
}
