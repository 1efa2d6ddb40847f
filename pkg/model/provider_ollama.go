package model

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teleologic/telos/pkg/config"
	"github.com/teleologic/telos/pkg/errors"
)

const (
	ollamaBaseURL      = "http://localhost:11434"
	defaultOllamaModel = "llama3.1"
)

// OllamaProvider provides completions via a local Ollama server. Calls are
// free; latency is the only cost dimension.
type OllamaProvider struct {
	baseURL string
	model   string
	http    *httpClient
}

// NewOllamaProvider builds a provider for a local Ollama instance.
func NewOllamaProvider(cfg config.ProviderConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		http:    newHTTPClient(cfg.Timeout),
	}
}

// ID returns provider identifier.
func (p *OllamaProvider) ID() string {
	return "ollama"
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Complete issues a non-streaming generate call.
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body := ollamaGenerateRequest{
		Model:  p.model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: false,
	}
	body.Options.Temperature = req.Temperature
	body.Options.NumPredict = req.MaxTokens
	if req.JSONOnly {
		body.Format = "json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "marshal request")
	}

	start := time.Now()
	raw, err := p.http.postJSON(ctx, p.baseURL+"/api/generate", nil, payload)
	if err != nil {
		return nil, err
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelBadOutput, "decode response")
	}
	if parsed.Error != "" {
		return nil, errors.New(errors.ErrCodeModelAPIError, parsed.Error)
	}

	return &CompletionResponse{
		Text:             parsed.Response,
		Model:            parsed.Model,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		Latency:          time.Since(start),
	}, nil
}
