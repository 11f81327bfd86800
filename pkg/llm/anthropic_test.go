package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textResponse(text string) map[string]any {
	return map[string]any{
		"model":       "test-model",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 7},
	}
}

func TestCreateMessageSuccess(t *testing.T) {
	var captured apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(textResponse("hello"))
	}))
	defer srv.Close()

	c := NewAnthropicClient("secret", []string{"model-a"}, WithBaseURL(srv.URL))
	resp, err := c.CreateMessage(context.Background(), &Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: []ContentBlock{TextBlock("hi")}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "model-a", captured.Model)
	assert.Equal(t, "be brief", captured.System)
	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Equal(t, "hello", resp.Text())
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 7}, resp.Usage)
}

func TestModelFallbackOnServerError(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model == "model-a" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(textResponse("from b"))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", []string{"model-a", "model-b"}, WithBaseURL(srv.URL))
	resp, err := c.CreateMessage(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "model-b"}, models)
	assert.Equal(t, "from b", resp.Text())
}

func TestAuthErrorAbortsFallback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicClient("bad", []string{"model-a", "model-b"}, WithBaseURL(srv.URL))
	_, err := c.CreateMessage(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "auth failures must not fall through")
}

func TestRateLimitClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", []string{"only"}, WithBaseURL(srv.URL))
	_, err := c.CreateMessage(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))
}

func TestCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", []string{"only"}, WithBaseURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.CreateMessage(ctx, &Request{})
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestOneShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(textResponse("answer"))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", []string{"m"}, WithBaseURL(srv.URL))
	text, usage, err := c.OneShot(context.Background(), "sys", "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, 12, usage.InputTokens)
}

func TestToolUseRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "m",
			"stop_reason": "tool_use",
			"content": []map[string]any{
				{"type": "text", "text": "creating file"},
				{"type": "tool_use", "id": "tu_1", "name": "write_file",
					"input": map[string]any{"path": "index.html", "content": "<html>"}},
			},
			"usage": map[string]any{"input_tokens": 1, "output_tokens": 2},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", []string{"m"}, WithBaseURL(srv.URL))
	resp, err := c.CreateMessage(context.Background(), &Request{})
	require.NoError(t, err)

	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "write_file", uses[0].Name)
	assert.Equal(t, "tu_1", uses[0].ID)

	var input map[string]string
	require.NoError(t, json.Unmarshal(uses[0].Input, &input))
	assert.Equal(t, "index.html", input["path"])
}
