// Package model abstracts the AI backend Telos delegates to. The runtime
// treats the model as an opaque solver with nonzero latency and cost; this
// package supplies OpenAI-compatible and Ollama implementations behind a
// single Provider interface.
package model

import (
	"context"
	"time"

	"github.com/teleologic/telos/pkg/config"
	"github.com/teleologic/telos/pkg/errors"
)

// Provider defines the behavior required for an AI model backend.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single prompt/response exchange.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64

	// JSONOnly asks the backend to emit a bare JSON value with no prose.
	JSONOnly bool
}

// CompletionResponse carries the model's text plus usage accounting.
type CompletionResponse struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// NewProvider builds the configured provider.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid,
				"openai provider requires an API key (set OPENAI_API_KEY or TELOS_PROVIDER_API_KEY)")
		}
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid, "unknown provider").
			WithContext("provider", cfg.Name)
	}
}

// Pricing converts token usage to dollars using the configured per-million
// token rates. Returns zero when no pricing is configured (local models).
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the dollar cost for a response under this pricing.
func (p Pricing) Cost(resp *CompletionResponse) float64 {
	if resp == nil {
		return 0
	}
	return float64(resp.PromptTokens)/1e6*p.InputPerMTok +
		float64(resp.CompletionTokens)/1e6*p.OutputPerMTok
}
