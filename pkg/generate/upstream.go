package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one upstream generation call.
type Request struct {
	Prompt   string
	System   string
	Language string
	Model    string
}

// Stream yields text chunks from an in-flight generation. Next returns
// io.EOF when the upstream closed the stream normally; any other error is a
// transport or upstream failure. Close releases the connection and cancels
// the call if it is still running.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Upstream is the port to the text-generation provider.
type Upstream interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// Client is an OpenAI-compatible streaming chat-completions client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client for the given provider URL and key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: http.DefaultClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Open starts a streaming completion. The returned stream is bound to ctx:
// cancelling it aborts the upstream call.
func (c *Client) Open(ctx context.Context, req Request) (Stream, error) {
	target, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{Model: req.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String()+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open upstream stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	return &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// sseStream decodes text deltas out of an SSE chat-completions response.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next non-empty content delta. A "[DONE]" marker or a
// clean end of the response body both yield io.EOF.
func (s *sseStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return []byte(chunk.Choices[0].Delta.Content), nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read upstream stream: %w", err)
	}
	return nil, io.EOF
}

// Close releases the underlying response body.
func (s *sseStream) Close() error {
	return s.body.Close()
}
