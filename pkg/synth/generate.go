package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/storage"
)

const generateSystemPrompt = `You are a program synthesizer. You write small,
self-contained programs that implement a typed function contract. The program
reads a JSON object of arguments from stdin and writes a single JSON value
conforming to the output schema to stdout. No network access, no files, no
third-party packages.

If and only if the function is intrinsically unsuited to a deterministic
program (it requires judgment, world knowledge, or open-ended language
understanding), you may declare the goal agentic instead of writing code.

Respond with a single JSON object:
{"strategy": "program" | "agentic", "rationale": "...", "confidence": 0.0-1.0, "source": "..."}
For agentic declarations, omit "source".`

const repairSystemPrompt = `You are a program synthesizer fixing a candidate
that failed testing. Apply the observation to produce a corrected program with
the same I/O contract: JSON arguments on stdin, one JSON value on stdout.

Respond with a single JSON object:
{"strategy": "program" | "agentic", "rationale": "...", "confidence": 0.0-1.0, "source": "..."}
Declare "agentic" only if the failures show the goal cannot be solved by a
deterministic program at all.`

// candidate is one generated implementation before it has been developed
// through the test-fix loop.
type candidate struct {
	Strategy   string  `json:"strategy"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// generateCandidates asks the model for the run's initial candidates, one
// call each so the samples stay independent.
func (o *Orchestrator) generateCandidates(ctx context.Context, goal *schema.Goal, prior []*storage.Proposal) ([]*candidate, error) {
	prompt := generatePrompt(goal, prior)

	candidates := make([]*candidate, 0, o.opts.CandidateCount)
	var lastErr error
	for i := 0; i < o.opts.CandidateCount; i++ {
		resp, err := o.provider.Complete(ctx, model.CompletionRequest{
			System:      generateSystemPrompt,
			Prompt:      prompt,
			JSONOnly:    true,
			Temperature: 0.8,
		})
		if err != nil {
			lastErr = err
			continue
		}
		cand, err := parseCandidate(resp.Text)
		if err != nil {
			lastErr = err
			continue
		}
		candidates = append(candidates, cand)
	}

	if len(candidates) == 0 {
		return nil, errors.Wrap(lastErr, errors.ErrCodeModelBadOutput, "no usable candidates generated").
			WithContext("goal", goal.Name).
			WithContext("attempts", o.opts.CandidateCount)
	}
	return candidates, nil
}

// repairCandidate regenerates a failing candidate from its source and the
// loop's structured observation.
func (o *Orchestrator) repairCandidate(ctx context.Context, goal *schema.Goal, source, observation string) (*candidate, error) {
	var b strings.Builder
	b.WriteString(goal.Contract())
	b.WriteString("\n\nCurrent candidate:\n")
	b.WriteString(source)
	b.WriteString("\n\nObservation from testing:\n")
	b.WriteString(observation)

	resp, err := o.provider.Complete(ctx, model.CompletionRequest{
		System:   repairSystemPrompt,
		Prompt:   b.String(),
		JSONOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return parseCandidate(resp.Text)
}

// generatePrompt renders the contract, a slice of the truth corpus as worked
// examples, and summaries of prior proposals so failed strategies are not
// retried.
func generatePrompt(goal *schema.Goal, prior []*storage.Proposal) string {
	var b strings.Builder
	b.WriteString(goal.Contract())

	if len(prior) > 0 {
		b.WriteString("\n\nPreviously tried proposals (do not repeat failed strategies):\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "- [%s, accuracy %.0f%%] %s\n",
				p.Status, p.Accuracy*100, firstLine(p.Rationale))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func parseCandidate(text string) (*candidate, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	var cand candidate
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &cand); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelBadOutput, "candidate is not valid JSON")
	}

	switch cand.Strategy {
	case storage.ProposalKindProgram:
		if strings.TrimSpace(cand.Source) == "" {
			return nil, errors.New(errors.ErrCodeModelBadOutput, "program candidate has no source")
		}
	case storage.ProposalKindAgentic:
	default:
		return nil, errors.New(errors.ErrCodeModelBadOutput, "unknown candidate strategy").
			WithContext("strategy", cand.Strategy)
	}

	if cand.Confidence < 0 || cand.Confidence > 1 {
		cand.Confidence = 0
	}
	return &cand, nil
}
