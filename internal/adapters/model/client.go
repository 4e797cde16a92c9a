// Package model binds core.ModelPort to an Ollama-compatible chat endpoint.
package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
)

// Config holds the client configuration.
type Config struct {
	Endpoint string // Default: http://localhost:11434
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint: "http://localhost:11434",
		Model:    "qwen2.5-coder",
		Timeout:  5 * time.Minute,
	}
}

// Client streams chat completions over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. Missing fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Complete sends the conversation and returns the joined reply.
func (c *Client) Complete(ctx context.Context, messages []core.Message, params core.ModelParams) (string, error) {
	chunks, err := c.Chat(ctx, messages, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

// Chat streams the reply. The channel is closed after the final chunk; a
// transport or decode failure is delivered as the last chunk.
func (c *Client) Chat(ctx context.Context, messages []core.Message, params core.ModelParams) (<-chan core.Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	req := chatRequest{
		Model:    c.cfg.Model,
		Messages: make([]chatMessage, 0, len(messages)),
		Stream:   true,
		Options:  map[string]any{"temperature": params.Temperature},
	}
	if params.ModelName != "" {
		req.Model = params.ModelName
	}
	if params.MaxTokens > 0 {
		req.Options["num_predict"] = params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Options["stop"] = params.Stop
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.ErrInternal("encoding chat request").WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, core.ErrConfig(core.CodeInvalidConfig, "building chat request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	out := make(chan core.Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		send := func(ch core.Chunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var cr chatResponse
			if err := json.Unmarshal(line, &cr); err != nil {
				send(core.Chunk{Err: core.ErrMalformedResponse("undecodable stream line").WithCause(err)})
				return
			}
			if cr.Error != "" {
				send(core.Chunk{Err: messageError(cr.Error)})
				return
			}
			if cr.Message.Content != "" && !send(core.Chunk{Text: cr.Message.Content}) {
				return
			}
			if cr.Done {
				c.logger.Debug("model stream finished", "model", req.Model, "duration", time.Since(start))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(core.Chunk{Err: transportError(ctx, err)})
			return
		}
		send(core.Chunk{Err: core.ErrMalformedResponse("stream ended before done")})
	}()
	return out, nil
}

// statusError maps an HTTP status onto the error taxonomy.
func statusError(status int, body string) error {
	msg := fmt.Sprintf("model endpoint returned %d", status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth(msg)
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimited(msg)
	case status == http.StatusRequestEntityTooLarge:
		return core.ErrContextLength(msg)
	case status >= 500:
		return core.ErrProviderUnavailable(msg)
	}
	if isContextLengthMessage(body) {
		return core.ErrContextLength(msg)
	}
	return core.ErrMalformedResponse(msg)
}

// messageError maps an in-stream error message.
func messageError(msg string) error {
	if isContextLengthMessage(msg) {
		return core.ErrContextLength(msg)
	}
	return core.ErrProviderUnavailable(msg)
}

func isContextLengthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context window") ||
		strings.Contains(lower, "too many tokens")
}

func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return core.ErrCancelled("model request cancelled").WithCause(err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return core.ErrTimeout("model request timed out").WithCause(err)
	}
	return core.ErrProviderUnavailable("model endpoint unreachable").WithCause(err)
}

var _ core.StreamingModel = (*Client)(nil)
