package solver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/schema"
)

const aiSystemPrompt = `You are the runtime implementation of a typed function.
Given the function contract and a JSON object of arguments, produce the
function's output. Respond with only a JSON value conforming exactly to the
output schema. No prose, no code fences.`

// AISolver delegates a goal to the model backend. It renders the goal's
// contract into the prompt, asks for JSON, and validates the parsed value
// against the output schema before returning it.
type AISolver struct {
	id       string
	kind     Kind
	provider model.Provider
	pricing  model.Pricing
}

// NewFallback returns the AI fallback solver handle.
func NewFallback(provider model.Provider, pricing model.Pricing) *AISolver {
	return &AISolver{
		id:       FallbackID,
		kind:     KindFallback,
		provider: provider,
		pricing:  pricing,
	}
}

// NewAgentic returns an agentic solver: an accepted proposal whose strategy
// is runtime delegation to the model, carried under the proposal's identity.
func NewAgentic(proposalID string, provider model.Provider, pricing model.Pricing) *AISolver {
	return &AISolver{
		id:       proposalID,
		kind:     KindAgentic,
		provider: provider,
		pricing:  pricing,
	}
}

// ID returns the solver identifier.
func (s *AISolver) ID() string { return s.id }

// Kind returns the solver variant.
func (s *AISolver) Kind() Kind { return s.kind }

// Solve renders the contract, calls the model, and validates the output.
func (s *AISolver) Solve(ctx context.Context, goal *schema.Goal, args map[string]any) (*Outcome, error) {
	prompt := goal.Contract() + "\nArguments:\n" + schema.CanonicalJSON(args)

	resp, err := s.provider.Complete(ctx, model.CompletionRequest{
		System:   aiSystemPrompt,
		Prompt:   prompt,
		JSONOnly: true,
	})
	if err != nil {
		return nil, err
	}

	output, err := ParseOutput(goal, resp.Text)
	if err != nil {
		return nil, err
	}

	cost := s.pricing.Cost(resp)
	return &Outcome{Output: output, Cost: &cost}, nil
}

// ParseOutput decodes a model- or candidate-produced JSON value and checks it
// against the goal's output schema. Stray code fences are stripped first;
// models add them even when told not to.
func ParseOutput(goal *schema.Goal, text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var output any
	if err := json.Unmarshal([]byte(trimmed), &output); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelBadOutput, "output is not valid JSON").
			WithContext("goal", goal.Name)
	}
	if err := goal.CheckOutput(output); err != nil {
		return nil, err
	}
	return output, nil
}
