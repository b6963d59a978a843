package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const schemaVersion = 1

const (
	agentClaude  = "claude"
	agentGemini  = "gemini"
	agentChatGPT = "chatgpt"

	DriverFS     = "fs"
	DriverSQLite = "sqlite"

	defaultGatewayBaseURL = "http://127.0.0.1:8090"
	defaultTimeoutSeconds = 120
	defaultAutosaveMs     = 1000
	defaultMaxTokens      = 32000
)

type AgentSettings struct {
	Enabled bool `json:"enabled"`
}

type Settings struct {
	SchemaVersion         int                      `json:"schema_version"`
	GatewayBaseURL        string                   `json:"gateway_base_url"`
	GatewayTimeoutSeconds int                      `json:"gateway_timeout_seconds"`
	Agents                map[string]AgentSettings `json:"agents"`
	AgentsFile            string                   `json:"agents_file,omitempty"`
	WorkspaceDriver       string                   `json:"workspace_driver"`
	AutosaveDelayMs       int                      `json:"autosave_delay_ms"`
	MaxPromptTokens       int                      `json:"max_prompt_tokens"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfillSettings(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfillSettings(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	return settings, s.Save(settings)
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion:         schemaVersion,
		GatewayBaseURL:        defaultGatewayBaseURL,
		GatewayTimeoutSeconds: defaultTimeoutSeconds,
		Agents: map[string]AgentSettings{
			agentClaude:  {Enabled: true},
			agentGemini:  {Enabled: true},
			agentChatGPT: {Enabled: true},
		},
		WorkspaceDriver: DriverFS,
		AutosaveDelayMs: defaultAutosaveMs,
		MaxPromptTokens: defaultMaxTokens,
	}
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	if strings.TrimSpace(settings.GatewayBaseURL) == "" {
		settings.GatewayBaseURL = defaultGatewayBaseURL
	}
	if settings.GatewayTimeoutSeconds <= 0 {
		settings.GatewayTimeoutSeconds = defaultTimeoutSeconds
	}
	if settings.Agents == nil {
		settings.Agents = map[string]AgentSettings{}
	}
	for _, id := range []string{agentClaude, agentGemini, agentChatGPT} {
		if _, ok := settings.Agents[id]; !ok {
			settings.Agents[id] = AgentSettings{Enabled: true}
		}
	}
	switch strings.ToLower(strings.TrimSpace(settings.WorkspaceDriver)) {
	case DriverSQLite:
		settings.WorkspaceDriver = DriverSQLite
	default:
		settings.WorkspaceDriver = DriverFS
	}
	if settings.AutosaveDelayMs <= 0 {
		settings.AutosaveDelayMs = defaultAutosaveMs
	}
	if settings.MaxPromptTokens <= 0 {
		settings.MaxPromptTokens = defaultMaxTokens
	}
}
