package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"triforge/engine/internal/egress"
)

const defaultTimeout = 120 * time.Second

const maxErrorBodyBytes = 2048

var (
	ErrUnauthorized  = errors.New("gateway unauthorized")
	ErrUnavailable   = errors.New("gateway unavailable")
	ErrRateLimited   = errors.New("gateway rate limited")
	ErrEgressBlocked = egress.ErrBlocked
)

// Request is the upstream chat payload. The gateway routes the prompt to the
// model named here and streams content deltas back.
type Request struct {
	AgentID   string   `json:"agentId"`
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	RequestID string   `json:"requestId"`
	Images    []string `json:"images,omitempty"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta   chunkContent `json:"delta"`
	Message chunkContent `json:"message"`
}

type chunkContent struct {
	Content string `json:"content"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a client for the stream gateway at baseURL. The transport
// only admits the gateway's own host.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported gateway scheme %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, errors.New("gateway url missing host")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := egress.NewAllowlistRoundTripper(http.DefaultTransport, []string{parsed.Hostname()})
	return &Client{
		baseURL: trimmed,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

func (c *Client) streamEndpoint() string {
	return c.baseURL + "/v1/chat/stream"
}

// StreamChat posts req and feeds each content delta to onDelta as it arrives.
// It returns the accumulated text once the gateway sends [DONE] or closes the
// stream. Lines that are not well-formed events are skipped.
func (c *Client) StreamChat(ctx context.Context, apiKey string, req Request, onDelta func(string)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamEndpoint(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, egress.ErrBlocked) {
			return "", ErrEgressBlocked
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", unauthorizedError(resp)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return "", ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway error: %s - %s", resp.Status, readErrorBody(resp))
	}

	var builder strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		piece := chunk.Choices[0].Delta.Content
		if piece == "" {
			piece = chunk.Choices[0].Message.Content
		}
		if piece == "" {
			continue
		}
		builder.WriteString(piece)
		if onDelta != nil {
			onDelta(piece)
		}
	}
	if err := scanner.Err(); err != nil {
		return builder.String(), err
	}
	return builder.String(), nil
}

func (c *Client) BaseURL() (*url.URL, error) {
	return url.Parse(c.baseURL)
}

func readErrorBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return strings.TrimSpace(string(body))
}

func unauthorizedError(resp *http.Response) error {
	requestID := strings.TrimSpace(resp.Header.Get("x-request-id"))
	return fmt.Errorf(
		"%w: status=%s request_id=%s body=%q",
		ErrUnauthorized,
		resp.Status,
		requestID,
		readErrorBody(resp),
	)
}
