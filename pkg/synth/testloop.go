package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teleologic/telos/pkg/bus"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
)

// maxObservedFailures bounds how many example mismatches go into a repair
// observation.
const maxObservedFailures = 3

// develop takes one candidate through the test-fix loop and returns the
// concluded proposal. It never returns an error: a candidate that cannot be
// made to pass concludes as rejected, which the run absorbs.
func (o *Orchestrator) develop(ctx context.Context, goal *schema.Goal, runID string, cand *candidate, truth map[string]*storage.TruthEntry) *storage.Proposal {
	p := &storage.Proposal{
		ID:         ulid.Make().String(),
		GoalName:   goal.Name,
		RunID:      runID,
		Rationale:  cand.Rationale,
		Confidence: cand.Confidence,
	}

	o.progress(ctx, bus.ProgressEvent{
		Stage: bus.StageProposal, Goal: goal.Name, RunID: runID,
		ProposalID: p.ID, Rationale: cand.Rationale, Confidence: cand.Confidence,
	})

	if cand.Strategy == storage.ProposalKindAgentic {
		return o.concludeAgentic(ctx, goal, p, truth)
	}

	source := cand.Source
	var best scoreReport
	for iteration := 1; iteration <= o.opts.IterationBudget; iteration++ {
		if ctx.Err() != nil {
			break
		}

		report := o.score(ctx, goal, source, truth)
		it := &storage.ProposalIteration{
			Iteration:   iteration,
			Artifact:    source,
			Accuracy:    report.accuracy,
			Outcome:     report.outcome,
			Error:       report.firstError,
			Observation: report.observation,
		}
		p.Iterations = append(p.Iterations, it)
		if report.accuracy >= best.accuracy {
			best = report
			best.source = source
		}

		o.progress(ctx, bus.ProgressEvent{
			Stage: bus.StageIteration, Goal: goal.Name, RunID: runID,
			ProposalID: p.ID, Iteration: iteration,
			Accuracy: report.accuracy, Error: report.firstError,
		})

		if report.accuracy >= o.opts.AccuracyThreshold {
			return o.concludeAccepted(ctx, goal, p, source, report, truth)
		}
		if iteration == o.opts.IterationBudget {
			break
		}

		repaired, err := o.repairCandidate(ctx, goal, source, report.observation)
		if err != nil {
			o.logger.Warn(logging.CategorySynthesis, "repair_failed", "candidate repair failed", map[string]any{
				"goal": goal.Name, "proposal": p.ID, "iteration": iteration, "error": err.Error(),
			})
			break
		}
		if repaired.Strategy == storage.ProposalKindAgentic {
			// The synthesizer concluded this goal needs runtime delegation.
			p.Rationale = repaired.Rationale
			return o.concludeAgentic(ctx, goal, p, truth)
		}
		source = repaired.Source
	}

	// Budget exhausted without reaching the threshold: rejected, but
	// retained with its best artifact for audit and future context.
	p.Kind = storage.ProposalKindProgram
	p.Artifact = best.source
	p.Status = storage.ProposalStatusRejected
	p.Accuracy = best.accuracy
	return p
}

// concludeAccepted benchmarks a passing program and finalizes the proposal.
func (o *Orchestrator) concludeAccepted(ctx context.Context, goal *schema.Goal, p *storage.Proposal, source string, report scoreReport, truth map[string]*storage.TruthEntry) *storage.Proposal {
	p.Kind = storage.ProposalKindProgram
	p.Artifact = source
	p.Status = storage.ProposalStatusAccepted
	p.Accuracy = report.accuracy
	p.CostPerCall = 0
	p.LatencyMS = o.benchmark(ctx, goal, source, truth)

	o.progress(ctx, bus.ProgressEvent{
		Stage: bus.StageBenchmark, Goal: goal.Name, RunID: p.RunID,
		ProposalID: p.ID, Accuracy: p.Accuracy, LatencyMS: p.LatencyMS,
	})
	return p
}

// concludeAgentic scores runtime delegation against the truth corpus in a
// single pass. Accuracy, latency, and cost come from the same measured calls.
func (o *Orchestrator) concludeAgentic(ctx context.Context, goal *schema.Goal, p *storage.Proposal, truth map[string]*storage.TruthEntry) *storage.Proposal {
	p.Kind = storage.ProposalKindAgentic
	p.Artifact = ""

	delegate := solver.NewAgentic(p.ID, o.provider, o.pricing)

	var (
		matched   int
		totalMS   float64
		totalCost float64
		calls     int
	)
	for _, entry := range truth {
		if ctx.Err() != nil {
			break
		}
		args, expected, err := decodeTruth(entry)
		if err != nil {
			continue
		}

		start := time.Now()
		outcome, err := delegate.Solve(ctx, goal, args)
		calls++
		totalMS += float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			continue
		}
		if outcome.Cost != nil {
			totalCost += *outcome.Cost
		}
		if outputsEqual(outcome.Output, expected) {
			matched++
		}
	}

	if calls > 0 {
		p.Accuracy = float64(matched) / float64(len(truth))
		p.LatencyMS = totalMS / float64(calls)
		p.CostPerCall = totalCost / float64(calls)
	}

	// Declaring delegation does not waive the accuracy bar: a delegate
	// that cannot reproduce the truth corpus is rejected like any other
	// candidate, never ranked, never promoted.
	p.Status = storage.ProposalStatusAgentic
	outcome := storage.IterationPass
	if p.Accuracy < o.opts.AccuracyThreshold {
		p.Status = storage.ProposalStatusRejected
		outcome = storage.IterationLogical
	}

	p.Iterations = append(p.Iterations, &storage.ProposalIteration{
		Iteration: len(p.Iterations) + 1,
		Accuracy:  p.Accuracy,
		Outcome:   outcome,
		Observation: fmt.Sprintf("agentic delegation scored over %d truth entries, %d matched",
			len(truth), matched),
	})
	return p
}

// scoreReport is the outcome of one pass over the truth corpus.
type scoreReport struct {
	accuracy    float64
	outcome     string
	firstError  string
	observation string
	source      string
}

// score runs the candidate against every ground-truth example and classifies
// the failure mode for the repair prompt.
func (o *Orchestrator) score(ctx context.Context, goal *schema.Goal, source string, truth map[string]*storage.TruthEntry) scoreReport {
	var (
		matched    int
		structural int
		failures   []string
		firstError string
	)

	for _, entry := range truth {
		if ctx.Err() != nil {
			break
		}
		args, expected, err := decodeTruth(entry)
		if err != nil {
			continue
		}

		result, err := o.runner.Run(ctx, source, schema.CanonicalJSON(args))
		if err != nil || result.ExitCode != 0 {
			structural++
			detail := ""
			if err != nil {
				detail = err.Error()
			} else {
				detail = fmt.Sprintf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
			}
			if firstError == "" {
				firstError = detail
			}
			if len(failures) < maxObservedFailures {
				failures = append(failures, fmt.Sprintf("input %s crashed: %s", entry.ArgsJSON, detail))
			}
			continue
		}

		output, err := solver.ParseOutput(goal, result.Stdout)
		if err != nil {
			structural++
			if firstError == "" {
				firstError = err.Error()
			}
			if len(failures) < maxObservedFailures {
				failures = append(failures, fmt.Sprintf("input %s produced malformed output: %s", entry.ArgsJSON, err.Error()))
			}
			continue
		}

		if outputsEqual(output, expected) {
			matched++
		} else if len(failures) < maxObservedFailures {
			failures = append(failures, fmt.Sprintf("input %s: got %s, want %s",
				entry.ArgsJSON, schema.CanonicalJSON(output), entry.ExpectedJSON))
		}
	}

	report := scoreReport{}
	if len(truth) > 0 {
		report.accuracy = float64(matched) / float64(len(truth))
	}
	report.firstError = firstError

	switch {
	case len(truth) > 0 && report.accuracy >= o.opts.AccuracyThreshold:
		report.outcome = storage.IterationPass
	case structural > 0:
		report.outcome = storage.IterationStructural
		report.observation = "the candidate has structural errors (crashes or malformed output):\n" +
			strings.Join(failures, "\n")
	default:
		report.outcome = storage.IterationLogical
		report.observation = "the candidate runs but produces wrong answers:\n" +
			strings.Join(failures, "\n")
	}
	return report
}

// benchmark measures median sandbox latency in milliseconds over repeated
// trials against one representative input.
func (o *Orchestrator) benchmark(ctx context.Context, goal *schema.Goal, source string, truth map[string]*storage.TruthEntry) float64 {
	var input string
	for _, entry := range truth {
		input = entry.ArgsJSON
		break
	}

	samples := make([]float64, 0, o.opts.BenchmarkTrials)
	for i := 0; i < o.opts.BenchmarkTrials; i++ {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		if _, err := o.runner.Run(ctx, source, input); err != nil {
			continue
		}
		samples = append(samples, float64(time.Since(start).Microseconds())/1000)
	}
	return median(samples)
}

func median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sort.Float64s(samples)
	mid := len(samples) / 2
	if len(samples)%2 == 1 {
		return samples[mid]
	}
	return (samples[mid-1] + samples[mid]) / 2
}

func decodeTruth(entry *storage.TruthEntry) (map[string]any, any, error) {
	var args map[string]any
	if err := decodeJSON(entry.ArgsJSON, &args); err != nil {
		return nil, nil, err
	}
	var expected any
	if err := decodeJSON(entry.ExpectedJSON, &expected); err != nil {
		return nil, nil, err
	}
	return args, expected, nil
}

func decodeJSON(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

// outputsEqual compares two JSON values through canonical encoding, so key
// order and 1-versus-1.0 representation differences never count as
// mismatches.
func outputsEqual(a, b any) bool {
	return schema.CanonicalJSON(a) == schema.CanonicalJSON(b)
}
