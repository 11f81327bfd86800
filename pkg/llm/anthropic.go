package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	apiVersion        = "2023-06-01"
	defaultMaxTokens  = 8192
	providerAnthropic = "anthropic"
)

// AnthropicClient talks to the Anthropic Messages API over HTTP.
// It is configured with an ordered model list; on retriable failures the
// call falls through to the next model, on auth/payment failures it aborts
// immediately (further models will not help).
type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	models     []string
	maxTokens  int
}

// Option customizes an AnthropicClient.
type Option func(*AnthropicClient)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(url string) Option {
	return func(c *AnthropicClient) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *AnthropicClient) { c.httpClient = hc }
}

// WithMaxTokens overrides the default response token budget.
func WithMaxTokens(n int) Option {
	return func(c *AnthropicClient) { c.maxTokens = n }
}

// NewAnthropicClient creates a client for the given key and ordered model list.
func NewAnthropicClient(apiKey string, models []string, opts ...Option) *AnthropicClient {
	c := &AnthropicClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		models:     models,
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OneShot sends a single system+user exchange and returns the assistant text.
func (c *AnthropicClient) OneShot(ctx context.Context, system, user string) (string, Usage, error) {
	resp, err := c.CreateMessage(ctx, &Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: []ContentBlock{TextBlock(user)}}},
	})
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Text(), resp.Usage, nil
}

// apiRequest is the Messages API request body.
type apiRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []Message      `json:"messages"`
	Tools     []Tool         `json:"tools,omitempty"`
}

// apiResponse is the Messages API response body.
type apiResponse struct {
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Usage      Usage          `json:"usage"`
}

// CreateMessage sends the conversation, trying each configured model in
// order until one succeeds or a fatal error aborts the fallback chain.
func (c *AnthropicClient) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var lastErr error
	for _, model := range c.models {
		resp, err := c.call(ctx, model, maxTokens, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if fatalKind(KindOf(err)) {
			return nil, err
		}
		slog.Warn("LLM call failed, falling through to next model",
			"model", model, "error", err)
	}
	if lastErr == nil {
		lastErr = &Error{Kind: KindTransport, Provider: providerAnthropic,
			Cause: errors.New("no models configured")}
	}
	return nil, lastErr
}

// call performs a single Messages API request against one model.
func (c *AnthropicClient) call(ctx context.Context, model string, maxTokens int, req *Request) (*Response, error) {
	body, err := json.Marshal(apiRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, Provider: providerAnthropic, Cause: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransport, Provider: providerAnthropic, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: providerAnthropic, Cause: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:     kindForStatus(httpResp.StatusCode),
			Provider: providerAnthropic,
			Status:   httpResp.StatusCode,
			Body:     truncateBody(respBody),
		}
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Kind: KindParse, Provider: providerAnthropic, Cause: err}
	}

	return &Response{
		Model:      parsed.Model,
		StopReason: parsed.StopReason,
		Content:    parsed.Content,
		Usage:      parsed.Usage,
	}, nil
}

// truncateBody keeps error bodies short enough for logs and error strings.
func truncateBody(body []byte) string {
	const max = 500
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
