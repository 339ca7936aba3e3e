package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// maxLineBytes bounds one NDJSON line of a streamed reply.
const maxLineBytes = 1 << 20

// Client is an Ollama chat client.
type Client struct {
	config Config
	client *http.Client
}

// Verify interface implementation at compile time
var _ Backend = (*Client)(nil)

// NewClient creates a client. No request is made until first use.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Streams can run past Timeout, so it bounds only the response headers.
	transport := &http.Transport{
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       30 * time.Second,
		MaxIdleConnsPerHost:   2,
	}
	return &Client{
		config: cfg,
		client: &http.Client{Transport: transport},
	}
}

// ModelName returns the configured model.
func (c *Client) ModelName() string { return c.config.Model }

// Host returns the configured endpoint.
func (c *Client) Host() string { return c.config.Host }

// Available checks that Ollama answers /api/tags.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Chat sends messages to /api/chat and waits for the whole reply.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.post(reqCtx, "/api/chat", chatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   false,
		Options:  c.options(),
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.classify(ctx, fmt.Errorf("decode chat response: %w", err))
	}
	if out.Error != "" {
		return "", c.unavailable(errors.New(out.Error))
	}
	return out.Message.Content, nil
}

// Generate sends a single prompt to /api/generate with streaming off.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.post(reqCtx, "/api/generate", generateRequest{
		Model:   c.config.Model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Options: c.options(),
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.classify(ctx, fmt.Errorf("decode generate response: %w", err))
	}
	if out.Error != "" {
		return "", c.unavailable(errors.New(out.Error))
	}
	return out.Response, nil
}

// ChatStream sends messages to /api/chat with streaming on. Connection and
// status errors are returned directly; errors after the first byte arrive as
// the last fragment.
func (c *Client) ChatStream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	resp, err := c.post(ctx, "/api/chat", chatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   true,
		Options:  c.options(),
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		send := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				slog.Debug("chat_stream_bad_line", slog.String("error", err.Error()))
				continue
			}
			if chunk.Error != "" {
				send(Fragment{Err: c.unavailable(errors.New(chunk.Error))})
				return
			}
			if chunk.Message.Content != "" || chunk.Done {
				if !send(Fragment{Text: chunk.Message.Content, Done: chunk.Done}) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}

		err := scanner.Err()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		send(Fragment{Err: c.unavailable(fmt.Errorf("chat stream ended early: %w", err))})
	}()
	return out, nil
}

func (c *Client) options() map[string]any {
	if c.config.Temperature == 0 {
		return nil
	}
	return map[string]any{"temperature": c.config.Temperature}
}

// post sends body as JSON and returns the response when the status is 200.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("llm_request", slog.String("path", path), slog.String("model", c.config.Model))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// classify returns the caller's context error untouched so callers can tell
// their own deadline apart from an unreachable backend.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return c.unavailable(err)
}

func (c *Client) unavailable(err error) error {
	return serrors.New(serrors.ErrCodeLLMUnavailable, "language model backend unavailable", err).
		WithDetail("host", c.config.Host).
		WithDetail("model", c.config.Model).
		WithSuggestion(fmt.Sprintf("Start Ollama and run: ollama pull %s", c.config.Model))
}
