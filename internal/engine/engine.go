// Package engine hosts the conversation state machine and exposes the
// operation surface consumed by the HTTP server and the stdio RPC host.
// Operations share one signature so both transports can dispatch them
// uniformly: params arrive as raw JSON, results are JSON-marshalable, and
// failures are structured ErrorInfo payloads rather than Go errors.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"triforge/engine/internal/agents"
	"triforge/engine/internal/appdirs"
	"triforge/engine/internal/conversation"
	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/gateway"
	"triforge/engine/internal/logging"
	"triforge/engine/internal/secrets"
	"triforge/engine/internal/settings"
	"triforge/engine/internal/workspace"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

// Notification methods pushed to the host. StreamFrame carries one
// conversation.Frame; StreamAllDone fires once per request when every
// tracked agent has reached a terminal phase, or when the user pauses.
const (
	NotifyStreamFrame   = "StreamFrame"
	NotifyStreamAllDone = "StreamAllDone"
)

// Notifier delivers a notification to the host transport.
type Notifier func(method string, params any)

// Streamer is the upstream transport a session streams through.
// *gateway.Client satisfies it; tests substitute fakes.
type Streamer interface {
	StreamChat(ctx context.Context, apiKey string, req gateway.Request, onDelta func(string)) (string, error)
}

type runHandle struct {
	requestID string
	cancel    context.CancelFunc
}

type Engine struct {
	dataDir  string
	settings *settings.Store
	secrets  *secrets.Store
	registry *agents.Registry
	autosave *workspace.Autosaver
	history  *historyLog
	logger   *slog.Logger

	// mu guards state, store, gateway, notify and allDoneEmitted. Session
	// goroutines and operations both mutate state; every access goes
	// through this lock.
	mu             sync.Mutex
	state          *conversation.State
	store          workspace.Store
	gateway        Streamer
	notify         Notifier
	allDoneEmitted string

	runMu sync.Mutex
	runs  map[string]runHandle

	sessions sync.WaitGroup

	now          func() time.Time
	newRequestID func() string
	newActionID  func() string
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStreamer overrides the default gateway client, bypassing the
// configured base URL. Settings updates that change the gateway still
// replace it.
func WithStreamer(s Streamer) Option {
	return func(e *Engine) {
		e.gateway = s
	}
}

func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:       logging.Nop(),
		state:        conversation.NewState(),
		runs:         make(map[string]runHandle),
		now:          time.Now,
		newRequestID: uuid.NewString,
		newActionID:  shortuuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}

	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	e.dataDir = dataDir
	e.settings = settings.NewStore(filepath.Join(dataDir, "settings.json"))
	e.secrets = secrets.NewStore(filepath.Join(dataDir, "secrets.enc"), filepath.Join(dataDir, "master.key"))

	cfg, err := e.settings.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if cfg.AgentsFile != "" {
		registry, err := agents.Load(cfg.AgentsFile)
		if err != nil {
			return nil, fmt.Errorf("load agents file: %w", err)
		}
		e.registry = registry
	} else {
		e.registry = agents.Default()
	}

	store, err := openStore(cfg, dataDir)
	if err != nil {
		return nil, err
	}
	e.store = store
	e.autosave = workspace.NewAutosaver(store, time.Duration(cfg.AutosaveDelayMs)*time.Millisecond)
	e.history = newHistoryLog(appdirs.HistoryDir(dataDir))

	if e.gateway == nil {
		client, err := gateway.NewClient(cfg.GatewayBaseURL, time.Duration(cfg.GatewayTimeoutSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("configure gateway client: %w", err)
		}
		e.gateway = client
	}

	e.logger.Debug("engine.initialized",
		"data_dir", dataDir,
		"workspace_driver", cfg.WorkspaceDriver,
		"gateway_base_url", cfg.GatewayBaseURL,
		"agents", e.registry.IDs())
	return e, nil
}

func openStore(cfg *settings.Settings, dataDir string) (workspace.Store, error) {
	switch cfg.WorkspaceDriver {
	case settings.DriverSQLite:
		store, err := workspace.NewSQLiteStore(filepath.Join(dataDir, "workspace.db"))
		if err != nil {
			return nil, fmt.Errorf("open workspace db: %w", err)
		}
		return store, nil
	default:
		store, err := workspace.NewFSStore(appdirs.WorkspaceDir(dataDir))
		if err != nil {
			return nil, fmt.Errorf("open workspace dir: %w", err)
		}
		return store, nil
	}
}

// SetNotifier installs the host notification sink. Pass nil to disable.
func (e *Engine) SetNotifier(notify Notifier) {
	e.mu.Lock()
	e.notify = notify
	e.mu.Unlock()
}

func (e *Engine) workspaceStore() workspace.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

// Close cancels live sessions, waits for them to drain, then flushes and
// releases the workspace store.
func (e *Engine) Close() error {
	e.cancelAllRuns()
	e.sessions.Wait()
	var errs []error
	if err := e.autosave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("flush autosave: %w", err))
	}
	if err := e.workspaceStore().Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) EngineGetInfo(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	cfg, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, "settings.json", err.Error())
	}
	configured := false
	if key, err := e.secrets.GetGatewayKey(); err == nil && key != "" {
		configured = true
	}
	return map[string]any{
		"engineVersion":     EngineVersion,
		"apiVersion":        APIVersion,
		"agents":            e.registry.List(),
		"gatewayBaseUrl":    cfg.GatewayBaseURL,
		"gatewayConfigured": configured,
		"workspaceDriver":   cfg.WorkspaceDriver,
	}, nil
}
