package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"triforge/engine/internal/conversation"
	"triforge/engine/internal/engine"
)

const keepAliveInterval = 25 * time.Second

// handleChat submits a prompt to one agent and answers with that session's
// SSE frame stream. The subscription is installed before the broadcast so
// no frame can slip between submit and subscribe.
func (s *Server) handleChat(c *echo.Context) error {
	agentID := c.Param("agentId")
	var req struct {
		Prompt    string   `json:"prompt"`
		RequestID string   `json:"requestId"`
		Images    []string `json:"images"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	sub := s.broker.subscribe("", agentID)
	defer s.broker.unsubscribe(sub)

	params, err := json.Marshal(map[string]any{
		"prompt":    req.Prompt,
		"agentIds":  []string{agentID},
		"requestId": req.RequestID,
		"images":    req.Images,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "encode params")
	}
	result, errInfo := s.eng.PromptBroadcast(c.Request().Context(), params)
	if errInfo != nil {
		return writeErrorInfo(c, errInfo)
	}
	requestID := result.(map[string]any)["requestId"].(string)

	rw := c.Response()
	writeSSEHeaders(rw)
	rw.WriteHeader(http.StatusOK)
	flush(rw)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.ch:
			// An event for a different request means a newer broadcast
			// claimed the agent; this stream is over.
			if ev.requestID() != requestID {
				writeSSETerminator(rw)
				flush(rw)
				return nil
			}
			switch payload := ev.payload.(type) {
			case conversation.Frame:
				writeSSEData(rw, payload)
				if payload.Type == conversation.FrameDone || payload.Type == conversation.FrameError {
					writeSSETerminator(rw)
					flush(rw)
					return nil
				}
			case map[string]any:
				writeSSEEvent(rw, "allDone", payload)
				writeSSETerminator(rw)
				flush(rw)
				return nil
			}
			flush(rw)
		}
	}
}

// handleStream is the firehose: every frame the engine accepts, optionally
// narrowed by requestId and agentId query filters. The stream stays open
// until the client disconnects.
func (s *Server) handleStream(c *echo.Context) error {
	sub := s.broker.subscribe(c.QueryParam("requestId"), c.QueryParam("agentId"))
	defer s.broker.unsubscribe(sub)

	rw := c.Response()
	writeSSEHeaders(rw)
	rw.WriteHeader(http.StatusOK)
	flush(rw)

	ctx := c.Request().Context()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			fmt.Fprint(rw, ": keep-alive\n\n")
			flush(rw)
		case ev := <-sub.ch:
			if ev.method == engine.NotifyStreamAllDone {
				writeSSEEvent(rw, "allDone", ev.payload)
			} else {
				writeSSEData(rw, ev.payload)
			}
			flush(rw)
		}
	}
}

func writeSSEHeaders(rw http.ResponseWriter) {
	h := rw.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func writeSSEData(rw http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(rw, "data: %s\n\n", data)
}

func writeSSEEvent(rw http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", name, data)
}

// writeSSETerminator mirrors the upstream gateway convention so clients
// can reuse one parser for both streams.
func writeSSETerminator(rw http.ResponseWriter) {
	fmt.Fprint(rw, "data: [DONE]\n\n")
}

func flush(rw http.ResponseWriter) {
	if f, ok := rw.(http.Flusher); ok {
		f.Flush()
	}
}
