package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleologic/telos/pkg/config"
	telerrors "github.com/teleologic/telos/pkg/errors"
)

func openAITestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProviderDispatch(t *testing.T) {
	p, err := NewProvider(config.ProviderConfig{Name: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.ID())

	p, err = NewProvider(config.ProviderConfig{Name: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.ID())

	_, err = NewProvider(config.ProviderConfig{Name: "openai"})
	require.Error(t, err, "openai without key")

	_, err = NewProvider(config.ProviderConfig{Name: "mystery"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeConfigInvalid))
}

func TestOpenAIComplete(t *testing.T) {
	srv := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"sentiment":"positive","confidence":0.9}`}},
			},
			"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 12},
		})
	})

	p := NewOpenAIProvider(config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{
		Prompt:   "classify this",
		JSONOnly: true,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "positive")
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, 12, resp.CompletionTokens)
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestOpenAICompleteRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream blew up", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	})

	p := NewOpenAIProvider(config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Timeout: 10 * time.Second,
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestOpenAICompleteSurfacesAPIErrors(t *testing.T) {
	srv := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	})

	p := NewOpenAIProvider(config.ProviderConfig{
		APIKey:  "sk-bad",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})

	_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeModelAPIError))
}

func TestOpenAICompleteCancellation(t *testing.T) {
	srv := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; an unread body suppresses the
		// background connection read that delivers the cancellation.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	p := NewOpenAIProvider(config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Timeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeModelTimeout))
}

func TestOllamaComplete(t *testing.T) {
	srv := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3.1",
			"response":          `{"sentiment":"neutral","confidence":0.5}`,
			"prompt_eval_count": 30,
			"eval_count":        9,
		})
	})

	p := NewOllamaProvider(config.ProviderConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "classify", JSONOnly: true})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "neutral")
	assert.Equal(t, 30, resp.PromptTokens)
}

func TestPricingCost(t *testing.T) {
	pricing := Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.60}

	cost := pricing.Cost(&CompletionResponse{PromptTokens: 1_000_000, CompletionTokens: 500_000})
	assert.InDelta(t, 0.15+0.30, cost, 1e-9)

	assert.Zero(t, Pricing{}.Cost(&CompletionResponse{PromptTokens: 100, CompletionTokens: 100}))
	assert.Zero(t, pricing.Cost(nil))
}
