package agents

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	AgentClaude  = "claude"
	AgentGemini  = "gemini"
	AgentChatGPT = "chatgpt"
)

// Agent is one selectable backend. ID is the stable identifier used in
// frames and turns; Model is the hint forwarded to the upstream gateway.
type Agent struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Model string `json:"model" yaml:"model"`
}

type Registry struct {
	agents []Agent
	byID   map[string]Agent
}

type rosterFile struct {
	Agents []Agent `yaml:"agents"`
}

func Default() *Registry {
	registry, _ := New([]Agent{
		{ID: AgentClaude, Label: "Claude", Model: "anthropic/claude-sonnet-4.5"},
		{ID: AgentGemini, Label: "Gemini", Model: "google/gemini-2.5-pro"},
		{ID: AgentChatGPT, Label: "ChatGPT", Model: "openai/gpt-5.2"},
	})
	return registry
}

func New(list []Agent) (*Registry, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("agents: empty roster")
	}
	byID := make(map[string]Agent, len(list))
	agents := make([]Agent, 0, len(list))
	for _, agent := range list {
		agent.ID = strings.TrimSpace(agent.ID)
		if agent.ID == "" {
			return nil, fmt.Errorf("agents: roster entry missing id")
		}
		if _, exists := byID[agent.ID]; exists {
			return nil, fmt.Errorf("agents: duplicate id %q", agent.ID)
		}
		if strings.TrimSpace(agent.Label) == "" {
			agent.Label = agent.ID
		}
		byID[agent.ID] = agent
		agents = append(agents, agent)
	}
	return &Registry{agents: agents, byID: byID}, nil
}

// Load reads a YAML roster file and replaces the default trio.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agents: parse %s: %w", path, err)
	}
	return New(file.Agents)
}

func (r *Registry) Lookup(id string) (Agent, bool) {
	agent, ok := r.byID[id]
	return agent, ok
}

func (r *Registry) List() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.agents))
	for _, agent := range r.agents {
		ids = append(ids, agent.ID)
	}
	return ids
}
