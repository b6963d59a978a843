package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/gateway"
	"triforge/engine/internal/logging"
	"triforge/engine/internal/settings"
)

func (e *Engine) SettingsGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	cfg, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "settings.json", err.Error())
	}
	return map[string]any{"settings": cfg}, nil
}

// SettingsUpdate patches the persisted settings. Gateway changes rebuild the
// upstream client for subsequent broadcasts; a workspace driver change only
// takes effect on the next start.
func (e *Engine) SettingsUpdate(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		GatewayBaseURL        *string         `json:"gatewayBaseUrl"`
		GatewayTimeoutSeconds *int            `json:"gatewayTimeoutSeconds"`
		Agents                map[string]bool `json:"agents"`
		WorkspaceDriver       *string         `json:"workspaceDriver"`
		AutosaveDelayMs       *int            `json:"autosaveDelayMs"`
		MaxPromptTokens       *int            `json:"maxPromptTokens"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "invalid params")
	}

	cfg, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "settings.json", err.Error())
	}

	baseURL := cfg.GatewayBaseURL
	if req.GatewayBaseURL != nil {
		baseURL = strings.TrimSpace(*req.GatewayBaseURL)
	}
	timeoutSeconds := cfg.GatewayTimeoutSeconds
	if req.GatewayTimeoutSeconds != nil {
		timeoutSeconds = *req.GatewayTimeoutSeconds
	}
	if timeoutSeconds <= 0 {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "gatewayTimeoutSeconds must be positive")
	}
	if req.MaxPromptTokens != nil && *req.MaxPromptTokens < 0 {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "maxPromptTokens must not be negative")
	}
	if req.WorkspaceDriver != nil &&
		*req.WorkspaceDriver != settings.DriverFS && *req.WorkspaceDriver != settings.DriverSQLite {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "workspaceDriver must be fs or sqlite")
	}
	for agentID := range req.Agents {
		if _, ok := e.registry.Lookup(agentID); !ok {
			return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "unknown agent: "+agentID)
		}
	}

	gatewayChanged := baseURL != cfg.GatewayBaseURL || timeoutSeconds != cfg.GatewayTimeoutSeconds
	var client *gateway.Client
	if gatewayChanged {
		client, err = gateway.NewClient(baseURL, time.Duration(timeoutSeconds)*time.Second)
		if err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "invalid gateway base url: "+err.Error())
		}
	}
	driverChanged := req.WorkspaceDriver != nil && *req.WorkspaceDriver != cfg.WorkspaceDriver

	updated, err := e.settings.Update(func(s *settings.Settings) {
		s.GatewayBaseURL = baseURL
		s.GatewayTimeoutSeconds = timeoutSeconds
		if req.WorkspaceDriver != nil {
			s.WorkspaceDriver = *req.WorkspaceDriver
		}
		if req.AutosaveDelayMs != nil {
			s.AutosaveDelayMs = *req.AutosaveDelayMs
		}
		if req.MaxPromptTokens != nil {
			s.MaxPromptTokens = *req.MaxPromptTokens
		}
		for agentID, enabled := range req.Agents {
			if s.Agents == nil {
				s.Agents = make(map[string]settings.AgentSettings)
			}
			s.Agents[agentID] = settings.AgentSettings{Enabled: enabled}
		}
	})
	if err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, "settings.json", err.Error())
	}

	if gatewayChanged {
		e.mu.Lock()
		e.gateway = client
		e.mu.Unlock()
	}
	if req.AutosaveDelayMs != nil {
		e.autosave.SetDelay(time.Duration(updated.AutosaveDelayMs) * time.Millisecond)
	}
	if driverChanged {
		e.logger.Info("engine.workspace_driver_change_pending", "driver", updated.WorkspaceDriver)
	}
	e.logger.Debug("engine.settings_updated",
		"gateway_base_url", updated.GatewayBaseURL,
		"gateway_timeout_seconds", updated.GatewayTimeoutSeconds,
		"workspace_driver", updated.WorkspaceDriver)
	return map[string]any{"settings": updated, "restartRequired": driverChanged}, nil
}

func (e *Engine) GatewaySetKey(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "invalid params")
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "apiKey must not be empty")
	}
	if err := e.secrets.SetGatewayKey(key); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, "secrets.enc", err.Error())
	}
	e.logger.Debug("engine.gateway_key_set", "api_key", logging.RedactValue(key))
	return map[string]any{"configured": true}, nil
}

func (e *Engine) GatewayClearKey(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.secrets.ClearGatewayKey(); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, "secrets.enc", err.Error())
	}
	e.logger.Debug("engine.gateway_key_cleared")
	return map[string]any{"configured": false}, nil
}

func (e *Engine) GatewayGetStatus(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	cfg, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "settings.json", err.Error())
	}
	key, err := e.secrets.GetGatewayKey()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "secrets.enc", err.Error())
	}
	e.mu.Lock()
	connected := e.state.Connected()
	e.mu.Unlock()
	return map[string]any{
		"configured":     key != "",
		"gatewayBaseUrl": cfg.GatewayBaseURL,
		"connected":      connected,
	}, nil
}
