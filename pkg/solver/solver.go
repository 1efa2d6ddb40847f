// Package solver defines the callable variants the router can dispatch to: a
// synthesized program running in the sandbox, an agentic solver delegating to
// the model under a proposal's identity, and the always-available AI
// fallback. The variants are a closed set; the fallback is not a special
// case of agentic but its own handle that can never be removed.
package solver

import (
	"context"

	"github.com/teleologic/telos/pkg/schema"
)

// Kind identifies a solver variant.
type Kind string

const (
	KindProgram  Kind = "program"
	KindAgentic  Kind = "agentic"
	KindFallback Kind = "ai-fallback"
)

// FallbackID is the immutable identifier of the AI fallback solver.
const FallbackID = "ai-fallback"

// Outcome is a successful solve with its accounting.
type Outcome struct {
	Output any

	// Cost in dollars for this call. Nil for solvers with no monetary cost.
	Cost *float64
}

// Solver produces a typed output for a goal's arguments.
type Solver interface {
	ID() string
	Kind() Kind
	Solve(ctx context.Context, goal *schema.Goal, args map[string]any) (*Outcome, error)
}
