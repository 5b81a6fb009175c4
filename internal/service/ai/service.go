package ai

import (
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
)

// ApologyMessage is returned in place of a completion whenever the inference
// server cannot produce one.
const ApologyMessage = "I'm sorry, but I'm unable to process your request at this time."

const (
	defaultModel     = "llama3.1"
	defaultTimeout   = 120 * time.Second
	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response *string        `json:"response"`
	Error    json.RawMessage `json:"error"`
}

// HTTPStatusError captures non-2xx responses from the inference server.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ollama: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client talks to an Ollama server's /api/generate endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a completion client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ollama: base url must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model reports the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Complete returns the generated text for prompt, or ApologyMessage on any
// failure. It never returns an error.
func (c *Client) Complete(ctx context.Context, prompt string) string {
	text, err := c.Generate(ctx, prompt)
	if err != nil {
		c.logger.Error("completion failed", "model", c.model, "error", err)
		return ApologyMessage
	}
	return text
}

// Generate performs a single non-streaming generation request.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	url := c.baseURL + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: truncate(string(raw), maxErrorBody)}
	}

	var payload generateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	// Any "error" key counts as a failure, even null or empty.
	if payload.Error != nil {
		return "", fmt.Errorf("ollama: server error: %s", truncate(string(payload.Error), maxErrorBody))
	}
	if payload.Response == nil {
		return "", errors.New("ollama: response field missing")
	}
	return *payload.Response, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
