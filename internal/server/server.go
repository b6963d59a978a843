// Package server exposes the engine over HTTP: a JSON API for operations
// plus SSE endpoints that relay the engine's stream frames to browsers and
// other local clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"triforge/engine/internal/engine"
	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/logging"
)

type opFunc func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo)

type Server struct {
	eng    *engine.Engine
	echo   *echo.Echo
	broker *broker
	logger *slog.Logger
	srv    *http.Server
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New wires the engine's notifier into the SSE broker and registers all
// routes. The returned server is ready to Start.
func New(eng *engine.Engine, addr string, opts ...Option) *Server {
	s := &Server{
		eng:    eng,
		echo:   echo.New(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.broker = newBroker(s.logger)
	eng.SetNotifier(s.broker.publish)
	s.routes()
	// No write timeout: SSE responses stay open for the whole session.
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("server.listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.echo.Use(s.requestLogger)
	g := s.echo.Group("/api/v1")

	g.GET("/info", s.opHandler(s.eng.EngineGetInfo))
	g.POST("/broadcast", s.bodyHandler(s.eng.PromptBroadcast))
	g.POST("/pause", s.opHandler(s.eng.PromptPause))
	g.GET("/state", s.opHandler(s.eng.StateGetSnapshot))

	g.POST("/chat/:agentId", s.handleChat)
	g.GET("/stream", s.handleStream)

	g.GET("/agents/:agentId/turns", s.handleAgentTurns)
	g.GET("/agents/:agentId/diffs", s.handleAgentDiffs)

	g.POST("/diffs/apply", s.bodyHandler(s.eng.DiffApply))
	g.POST("/diffs/reject", s.bodyHandler(s.eng.DiffReject))
	g.GET("/diffs/preview", s.handleDiffPreview)

	g.GET("/workspace/files", s.handleWorkspaceList)
	g.GET("/workspace/file", s.handleWorkspaceRead)
	g.PUT("/workspace/file", s.handleWorkspaceWrite)
	g.DELETE("/workspace/file", s.handleWorkspaceDelete)
	g.GET("/workspace/exists", s.handleWorkspaceExists)
	g.POST("/workspace/clear", s.opHandler(s.eng.WorkspaceClear))

	g.GET("/history", s.handleHistory)

	g.GET("/settings", s.opHandler(s.eng.SettingsGet))
	g.PATCH("/settings", s.bodyHandler(s.eng.SettingsUpdate))
	g.GET("/gateway/status", s.opHandler(s.eng.GatewayGetStatus))
	g.PUT("/gateway/key", s.bodyHandler(s.eng.GatewaySetKey))
	g.DELETE("/gateway/key", s.opHandler(s.eng.GatewayClearKey))
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		started := time.Now()
		err := next(c)
		s.logger.Debug("http.request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"elapsed_ms", time.Since(started).Milliseconds())
		return err
	}
}

// opHandler serves an operation that takes no parameters.
func (s *Server) opHandler(op opFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		return s.callOp(c, op, nil)
	}
}

// bodyHandler passes the request body through as the operation's params.
// The operation owns validation; the transport only moves bytes.
func (s *Server) bodyHandler(op opFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
		}
		if len(body) == 0 {
			body = []byte("{}")
		}
		result, errInfo := op(c.Request().Context(), body)
		return s.respond(c, result, errInfo)
	}
}

// callOp marshals params and dispatches. params built from query strings
// or route segments, never straight client JSON.
func (s *Server) callOp(c *echo.Context, op opFunc, params any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "encode params")
		}
		raw = data
	}
	result, errInfo := op(c.Request().Context(), raw)
	return s.respond(c, result, errInfo)
}

func (s *Server) respond(c *echo.Context, result any, errInfo *errinfo.ErrorInfo) error {
	if errInfo != nil {
		return writeErrorInfo(c, errInfo)
	}
	return c.JSON(http.StatusOK, result)
}

func writeErrorInfo(c *echo.Context, info *errinfo.ErrorInfo) error {
	return c.JSON(httpStatus(info.ErrorCode), info)
}

// httpStatus maps the structured error taxonomy onto HTTP statuses.
// Upstream gateway failures surface as gateway-class statuses so clients
// can tell engine bugs from provider trouble.
func httpStatus(code string) int {
	switch code {
	case errinfo.CodeValidationFailed, errinfo.CodeInvalidPath:
		return http.StatusBadRequest
	case errinfo.CodeFileNotFound:
		return http.StatusNotFound
	case errinfo.CodeGatewayNotConfigured:
		return http.StatusPreconditionFailed
	case errinfo.CodeEgressBlocked:
		return http.StatusForbidden
	case errinfo.CodeGatewayRateLimited:
		return http.StatusTooManyRequests
	case errinfo.CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case errinfo.CodeGatewayAuthFailed, errinfo.CodeGatewayUnavailable, errinfo.CodeNetworkUnavailable:
		return http.StatusBadGateway
	case errinfo.CodeUserCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAgentTurns(c *echo.Context) error {
	return s.callOp(c, s.eng.ConversationGetTurns, map[string]any{"agentId": c.Param("agentId")})
}

func (s *Server) handleAgentDiffs(c *echo.Context) error {
	return s.callOp(c, s.eng.DiffsList, map[string]any{"agentId": c.Param("agentId")})
}

func (s *Server) handleDiffPreview(c *echo.Context) error {
	maxLines, _ := strconv.Atoi(c.QueryParam("maxLines"))
	return s.callOp(c, s.eng.DiffsPreview, map[string]any{
		"agentId":  c.QueryParam("agentId"),
		"filePath": c.QueryParam("filePath"),
		"maxLines": maxLines,
	})
}

func (s *Server) handleWorkspaceList(c *echo.Context) error {
	return s.callOp(c, s.eng.WorkspaceListFiles, map[string]any{"dir": c.QueryParam("dir")})
}

func (s *Server) handleWorkspaceRead(c *echo.Context) error {
	return s.callOp(c, s.eng.WorkspaceReadFile, map[string]any{"path": c.QueryParam("path")})
}

// handleWorkspaceWrite debounces through the autosaver unless the client
// asks for an immediate write.
func (s *Server) handleWorkspaceWrite(c *echo.Context) error {
	var req struct {
		Path      string `json:"path"`
		Content   string `json:"content"`
		Immediate bool   `json:"immediate"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return s.callOp(c, s.eng.WorkspaceWriteFile, map[string]any{
		"path":     req.Path,
		"content":  req.Content,
		"autosave": !req.Immediate,
	})
}

func (s *Server) handleWorkspaceDelete(c *echo.Context) error {
	return s.callOp(c, s.eng.WorkspaceDeleteFile, map[string]any{"path": c.QueryParam("path")})
}

func (s *Server) handleWorkspaceExists(c *echo.Context) error {
	return s.callOp(c, s.eng.WorkspaceFileExists, map[string]any{"path": c.QueryParam("path")})
}

func (s *Server) handleHistory(c *echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return s.callOp(c, s.eng.HistoryList, map[string]any{
		"agentId": c.QueryParam("agentId"),
		"limit":   limit,
	})
}
