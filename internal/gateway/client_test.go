package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestStreamChatAccumulatesDeltas(t *testing.T) {
	var gotAuth string
	var gotReq Request
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	var deltas []string
	content, err := client.StreamChat(context.Background(), "gw-key", Request{
		AgentID:   "claude",
		Model:     "anthropic/claude-sonnet-4.5",
		Prompt:    "hi",
		RequestID: "req-1",
	}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if content != "Hello" {
		t.Fatalf("expected accumulated content, got %q", content)
	}
	if !reflect.DeepEqual(deltas, []string{"Hel", "lo"}) {
		t.Fatalf("unexpected delta sequence: %v", deltas)
	}
	if gotAuth != "Bearer gw-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.AgentID != "claude" || gotReq.RequestID != "req-1" {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
}

func TestStreamChatMessageFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"message\":{\"content\":\"full text\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	content, err := client.StreamChat(context.Background(), "", Request{AgentID: "gemini", Model: "m", Prompt: "p", RequestID: "r"}, nil)
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if content != "full text" {
		t.Fatalf("expected message fallback, got %q", content)
	}
}

func TestStreamChatSkipsMalformedLines(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	content, err := client.StreamChat(context.Background(), "", Request{AgentID: "chatgpt", Model: "m", Prompt: "p", RequestID: "r"}, nil)
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if content != "ok" {
		t.Fatalf("expected malformed lines skipped, got %q", content)
	}
}

func TestStreamChatIgnoresContentAfterDone(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"before\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}\n\n")
	}))
	content, err := client.StreamChat(context.Background(), "", Request{AgentID: "claude", Model: "m", Prompt: "p", RequestID: "r"}, nil)
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if content != "before" {
		t.Fatalf("expected stream to stop at DONE, got %q", content)
	}
}

func TestStreamChatStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{status: http.StatusUnauthorized, want: ErrUnauthorized},
		{status: http.StatusForbidden, want: ErrUnauthorized},
		{status: http.StatusTooManyRequests, want: ErrRateLimited},
		{status: http.StatusInternalServerError, want: ErrUnavailable},
		{status: http.StatusBadGateway, want: ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			_, err := client.StreamChat(context.Background(), "k", Request{AgentID: "claude", Model: "m", Prompt: "p", RequestID: "r"}, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
			}
		})
	}
}

func TestStreamChatNonSentinelStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	_, err := client.StreamChat(context.Background(), "k", Request{AgentID: "claude", Model: "m", Prompt: "p", RequestID: "r"}, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("404 should not map to a sentinel, got %v", err)
	}
}

func TestStreamChatCancellation(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	content, err := client.StreamChat(ctx, "", Request{AgentID: "claude", Model: "m", Prompt: "p", RequestID: "r"}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if content != "partial" {
		t.Fatalf("expected partial content surfaced, got %q", content)
	}
}

func TestNewClientRejectsBadURLs(t *testing.T) {
	if _, err := NewClient("ftp://gateway.example.com", 0); err == nil {
		t.Fatal("expected scheme rejection")
	}
	if _, err := NewClient("http://", 0); err == nil {
		t.Fatal("expected missing host rejection")
	}
}

func TestEstimateTokens(t *testing.T) {
	count, err := EstimateTokens("hello world")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if count <= 0 {
		t.Fatalf("expected positive token count, got %d", count)
	}
	if EstimateTokensSimple("") != 0 {
		t.Fatal("expected zero tokens for empty text")
	}
}
