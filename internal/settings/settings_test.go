package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.GatewayBaseURL != defaultGatewayBaseURL {
		t.Fatalf("expected default gateway url, got %q", settings.GatewayBaseURL)
	}
	if settings.GatewayTimeoutSeconds != defaultTimeoutSeconds {
		t.Fatalf("expected default timeout, got %d", settings.GatewayTimeoutSeconds)
	}
	for _, id := range []string{agentClaude, agentGemini, agentChatGPT} {
		if !settings.Agents[id].Enabled {
			t.Fatalf("expected %s enabled by default", id)
		}
	}
	if settings.WorkspaceDriver != DriverFS {
		t.Fatalf("expected fs driver by default, got %q", settings.WorkspaceDriver)
	}

	settings.GatewayBaseURL = "https://gateway.example.com"
	settings.Agents[agentGemini] = AgentSettings{Enabled: false}
	settings.WorkspaceDriver = "SQLITE"
	settings.AutosaveDelayMs = 250
	if err := store.Save(settings); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.GatewayBaseURL != "https://gateway.example.com" {
		t.Fatalf("expected saved gateway url, got %q", loaded.GatewayBaseURL)
	}
	if loaded.Agents[agentGemini].Enabled {
		t.Fatalf("expected gemini disabled")
	}
	if loaded.WorkspaceDriver != DriverSQLite {
		t.Fatalf("expected sqlite driver normalized, got %q", loaded.WorkspaceDriver)
	}
	if loaded.AutosaveDelayMs != 250 {
		t.Fatalf("expected autosave delay 250, got %d", loaded.AutosaveDelayMs)
	}
}

func TestLoadBackfillsMissingFields(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "settings.json")
	legacy := `{
  "schema_version": 1,
  "gateway_base_url": "http://127.0.0.1:9999",
  "agents": {
    "claude": {"enabled": false}
  },
  "workspace_driver": "bogus"
}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write legacy settings: %v", err)
	}

	store := NewStore(path)
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Agents[agentClaude].Enabled {
		t.Fatalf("expected claude to stay disabled")
	}
	if !settings.Agents[agentGemini].Enabled || !settings.Agents[agentChatGPT].Enabled {
		t.Fatalf("expected missing agents backfilled enabled")
	}
	if settings.WorkspaceDriver != DriverFS {
		t.Fatalf("expected unknown driver to fall back to fs, got %q", settings.WorkspaceDriver)
	}
	if settings.GatewayTimeoutSeconds != defaultTimeoutSeconds {
		t.Fatalf("expected timeout backfilled, got %d", settings.GatewayTimeoutSeconds)
	}
	if settings.MaxPromptTokens != defaultMaxTokens {
		t.Fatalf("expected token cap backfilled, got %d", settings.MaxPromptTokens)
	}

	updated, err := store.Update(func(s *Settings) { s.AutosaveDelayMs = -5 })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.AutosaveDelayMs != defaultAutosaveMs {
		t.Fatalf("expected invalid autosave delay backfilled, got %d", updated.AutosaveDelayMs)
	}
}
