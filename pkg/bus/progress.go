package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Synthesis progress stages, in rough emission order.
const (
	StageStarted   = "started"
	StageProposal  = "proposal"
	StageIteration = "iteration"
	StageBenchmark = "benchmark"
	StageWinner    = "winner"
	StageNoWinner  = "no_winner"
	StageFailed    = "failed"
)

// QueueSynthesis is the task queue the automatic trigger pushes goal names
// onto.
const QueueSynthesis = "synthesis"

// ProgressEvent is one step of a synthesis run, published for streaming
// consumers. Fields beyond Stage, Goal and RunID are stage-dependent.
type ProgressEvent struct {
	Stage      string    `json:"stage"`
	Goal       string    `json:"goal"`
	RunID      string    `json:"runId"`
	ProposalID string    `json:"proposalId,omitempty"`
	Rationale  string    `json:"rationale,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Iteration  int       `json:"iteration,omitempty"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	LatencyMS  float64   `json:"latencyMs,omitempty"`
	Speedup    float64   `json:"speedup,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SynthesisSubject is the subject progress events for a goal are published
// on. Subscribe to "synthesis.>" for all goals.
func SynthesisSubject(goal string) string {
	return fmt.Sprintf("synthesis.%s", goal)
}

// PublishProgress marshals and publishes a progress event. Publish failures
// are returned but are safe to ignore; progress is advisory.
func PublishProgress(ctx context.Context, b Bus, event ProgressEvent) error {
	if b == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.Publish(ctx, SynthesisSubject(event.Goal), data)
}
