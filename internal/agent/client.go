// Package agent talks to the model backend that agent nodes delegate to.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

const (
	// DefaultBaseURL is the stock Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultRequestTimeout  = 120 * time.Second
)

// GenerateRequest is a single completion request for an agent node.
type GenerateRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// ModelInfo describes one model the backend has available.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Generator is the collaborator agent node handlers call. The engine depends
// on this interface so tests can stub the model backend.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ModelLister enumerates the models the backend can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Client is an Ollama-compatible HTTP client implementing Generator and
// ModelLister.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxResponseBody int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxResponseBody caps how many response bytes are read.
func WithMaxResponseBody(n int64) Option {
	return func(c *Client) { c.maxResponseBody = n }
}

// NewClient creates a client for the given base URL. An empty URL selects
// the default local endpoint.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: defaultRequestTimeout},
		maxResponseBody: defaultMaxResponseBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generatePayload struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a non-streaming completion request and returns the model's
// text response.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Model == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "agent: missing model name")
	}

	payload := generatePayload{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: false,
	}
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		payload.Options = opts
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "agent: marshal generate request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "agent: build generate request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.transportError(err, req.Model)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBody))
	if err != nil {
		return "", c.transportError(err, req.Model)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", schema.NewErrorf(schema.ErrCodeBadResponse,
			"agent: model backend returned status %d", resp.StatusCode).
			WithDetails(map[string]any{
				"status_code": resp.StatusCode,
				"body":        truncate(string(raw), 512),
				"model":       req.Model,
			})
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return "", schema.NewError(schema.ErrCodeBadResponse, "agent: invalid JSON from model backend").
			WithCause(err).
			WithDetails(map[string]any{"model": req.Model})
	}

	return gen.Response, nil
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels queries the backend for its installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "agent: build tags request").WithCause(err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(err, "")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBody))
	if err != nil {
		return nil, c.transportError(err, "")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeBadResponse,
			"agent: model backend returned status %d", resp.StatusCode).
			WithDetails(map[string]any{
				"status_code": resp.StatusCode,
				"body":        truncate(string(raw), 512),
			})
	}

	var tags tagsResponse
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, schema.NewError(schema.ErrCodeBadResponse, "agent: invalid JSON from model backend").WithCause(err)
	}

	return tags.Models, nil
}

// transportError maps transport failures to FlowError codes: deadline and
// cancellation map to a timeout, connection failures to unavailable.
func (c *Client) transportError(err error, model string) *schema.FlowError {
	details := map[string]any{"base_url": c.baseURL}
	if model != "" {
		details["model"] = model
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return schema.NewError(schema.ErrCodeTimeout, "agent: model request timed out").
			WithCause(err).
			WithDetails(details)
	}

	return schema.NewErrorf(schema.ErrCodeUnavailable,
		"agent: model backend unreachable at %s", c.baseURL).
		WithCause(err).
		WithDetails(details)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes total)", s[:n], len(s))
}

var (
	_ Generator   = (*Client)(nil)
	_ ModelLister = (*Client)(nil)
)
