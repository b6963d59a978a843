package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func serveLines(t *testing.T, server func(*Server), input string) []Response {
	t.Helper()
	var output bytes.Buffer
	s := NewServer("1", strings.NewReader(input), &output, nil)
	server(s)
	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestServerHandlesRequest(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Ping\",\"api_version\":\"1\"}\n"
	responses := serveLines(t, func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return map[string]any{"pong": true}, nil
		})
	}, input)
	if len(responses) != 1 {
		t.Fatalf("expected one response, got %d", len(responses))
	}
	resp := responses[0]
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["pong"] != true {
		t.Fatalf("expected pong true")
	}
}

func TestServerHandlerError(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":7,\"method\":\"Boom\"}\n"
	responses := serveLines(t, func(s *Server) {
		s.Register("Boom", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return nil, &Error{Message: "broadcast failed", Data: map[string]string{"phase": "broadcast"}}
		})
	}, input)
	if len(responses) != 1 {
		t.Fatalf("expected one response, got %d", len(responses))
	}
	if responses[0].Error == nil {
		t.Fatalf("expected error payload")
	}
	if responses[0].Error.Message != "broadcast failed" {
		t.Fatalf("unexpected message: %q", responses[0].Error.Message)
	}
	if string(responses[0].ID) != "7" {
		t.Fatalf("expected id 7, got %s", responses[0].ID)
	}
}

func TestServerRejectsUnknownMethodAndBadInput(t *testing.T) {
	input := "not json\n" +
		"{\"jsonrpc\":\"1.0\",\"id\":1,\"method\":\"Ping\"}\n" +
		"{\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"Nope\"}\n" +
		"{\"jsonrpc\":\"2.0\",\"id\":3,\"method\":\"Ping\",\"api_version\":\"99\"}\n"
	responses := serveLines(t, func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return map[string]any{"pong": true}, nil
		})
	}, input)
	if len(responses) != 4 {
		t.Fatalf("expected four error responses, got %d", len(responses))
	}
	wantMessages := []string{"invalid json", "invalid jsonrpc version", "method not found: Nope", "incompatible api_version"}
	for i, resp := range responses {
		if resp.Error == nil {
			t.Fatalf("response %d: expected error", i)
		}
		if resp.Error.Message != wantMessages[i] {
			t.Fatalf("response %d: got %q want %q", i, resp.Error.Message, wantMessages[i])
		}
	}
}

func TestServerNotificationRequestGetsNoResponse(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"method\":\"Fire\"}\n"
	called := false
	responses := serveLines(t, func(s *Server) {
		s.Register("Fire", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			called = true
			return map[string]any{"ok": true}, nil
		})
	}, input)
	if !called {
		t.Fatalf("handler not invoked")
	}
	if len(responses) != 0 {
		t.Fatalf("expected no responses, got %d", len(responses))
	}
}

func TestServerNotify(t *testing.T) {
	var output bytes.Buffer
	s := NewServer("1", strings.NewReader(""), &output, nil)
	s.Notify("StreamFrame", map[string]any{"agentId": "claude"})
	var n Notification
	if err := json.Unmarshal(bytes.TrimSpace(output.Bytes()), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n.JSONRPC != "2.0" || n.Method != "StreamFrame" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	params := n.Params.(map[string]any)
	if params["agentId"] != "claude" {
		t.Fatalf("unexpected params: %v", n.Params)
	}
}
