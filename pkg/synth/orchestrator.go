// Package synth runs the synthesis pipeline: generate candidate
// implementations for a goal, iterate each through a test-fix loop against
// ground truth, benchmark the survivors, and promote the winner into the
// solver registry when it strictly beats the current best. At most one run
// per goal may be in flight; runs for different goals proceed in parallel.
package synth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teleologic/telos/pkg/bus"
	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/evaluate"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/sandbox"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
	"github.com/teleologic/telos/pkg/telemetry"
)

// synthStore is the storage surface the orchestrator needs.
type synthStore interface {
	GetGoal(name string) (*schema.Goal, error)
	GetAllTruth(goalName string) (map[string]*storage.TruthEntry, error)
	CountTruth(goalName string) (int, error)
	ListProposals(goalName string) ([]*storage.Proposal, error)
	GetProposal(id string) (*storage.Proposal, error)
	SaveProposal(p *storage.Proposal) error
	SetSynthesisMark(mark *storage.SynthesisMark) error
	CountInvocations(goalName string) (int, error)
	QueryInvocations(goalName string, filter storage.InvocationFilter) ([]*storage.InvocationRecord, error)
}

// promoter applies registry promotions.
type promoter interface {
	Promote(goalName string, proposalIDs []string) error
	Top(goalName string) (string, error)
}

// Options tunes a synthesis run.
type Options struct {
	// AccuracyThreshold is the fraction of ground-truth examples a
	// candidate must match to be accepted.
	AccuracyThreshold float64
	// IterationBudget bounds the test-fix loop per candidate.
	IterationBudget int
	// CandidateCount is how many independent candidates to generate.
	CandidateCount int
	// BenchmarkTrials is how many sandbox runs the latency median is
	// taken over.
	BenchmarkTrials int
	// MinTruthEntries gates synthesis: below this corpus size a run is
	// refused.
	MinTruthEntries int
}

func (o *Options) fillDefaults() {
	if o.AccuracyThreshold <= 0 {
		o.AccuracyThreshold = 1.0
	}
	if o.IterationBudget <= 0 {
		o.IterationBudget = 5
	}
	if o.CandidateCount <= 0 {
		o.CandidateCount = 3
	}
	if o.BenchmarkTrials <= 0 {
		o.BenchmarkTrials = 7
	}
	if o.MinTruthEntries <= 0 {
		o.MinTruthEntries = 5
	}
}

// RunResult summarizes one completed synthesis run.
type RunResult struct {
	RunID     string              `json:"runId"`
	Goal      string              `json:"goal"`
	Proposals []*storage.Proposal `json:"proposals"`
	Winner    *storage.Proposal   `json:"winner,omitempty"`
	Promoted  bool                `json:"promoted"`
	Speedup   float64             `json:"speedup,omitempty"`
	Duration  time.Duration       `json:"duration"`
}

// Orchestrator coordinates synthesis runs.
type Orchestrator struct {
	store    synthStore
	registry promoter
	provider model.Provider
	pricing  model.Pricing
	runner   sandbox.Runner
	bus      bus.Bus
	logger   *logging.Logger
	opts     Options

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds an orchestrator. b may be nil (no progress streaming).
func New(store synthStore, registry promoter, provider model.Provider, pricing model.Pricing,
	runner sandbox.Runner, b bus.Bus, logger *logging.Logger, opts Options) *Orchestrator {
	opts.fillDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		store:    store,
		registry: registry,
		provider: provider,
		pricing:  pricing,
		runner:   runner,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
}

// Synthesize runs the full pipeline for one goal. A second call for the same
// goal while one is in flight fails immediately with SYNTHESIS_IN_FLIGHT.
func (o *Orchestrator) Synthesize(ctx context.Context, goalName string) (*RunResult, error) {
	if err := o.acquire(goalName); err != nil {
		return nil, err
	}
	defer o.release(goalName)

	start := time.Now()
	result, err := o.run(ctx, goalName)
	if err != nil {
		telemetry.RecordSynthesisRun("error")
		return nil, err
	}
	result.Duration = time.Since(start)

	if result.Promoted {
		telemetry.RecordSynthesisRun("promoted")
	} else {
		telemetry.RecordSynthesisRun("no_change")
	}
	return result, nil
}

func (o *Orchestrator) acquire(goalName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight == nil {
		o.inFlight = make(map[string]bool)
	}
	if o.inFlight[goalName] {
		return errors.New(errors.ErrCodeSynthesisInFlight, "a synthesis run is already in flight").
			WithContext("goal", goalName)
	}
	o.inFlight[goalName] = true
	return nil
}

func (o *Orchestrator) release(goalName string) {
	o.mu.Lock()
	delete(o.inFlight, goalName)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, goalName string) (*RunResult, error) {
	goal, err := o.store.GetGoal(goalName)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.New(errors.ErrCodeGoalNotFound, "goal is not declared").
				WithContext("goal", goalName)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load goal")
	}

	truth, err := o.store.GetAllTruth(goalName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load ground truth")
	}
	if len(truth) < o.opts.MinTruthEntries {
		return nil, errors.New(errors.ErrCodeSynthesisNoTruth, "not enough ground truth to synthesize").
			WithContext("goal", goalName).
			WithContext("have", len(truth)).
			WithContext("need", o.opts.MinTruthEntries)
	}

	// Prior proposals, rejected ones included, steer generation away from
	// strategies that already failed.
	prior, err := o.store.ListProposals(goalName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load prior proposals")
	}

	runID := uuid.NewString()
	result := &RunResult{RunID: runID, Goal: goalName}

	o.progress(ctx, bus.ProgressEvent{
		Stage: bus.StageStarted, Goal: goalName, RunID: runID,
		Message: "synthesis run started",
	})
	o.logger.Info(logging.CategorySynthesis, "run_started", "synthesis run started", map[string]any{
		"goal": goalName, "run": runID, "truth_entries": len(truth), "prior_proposals": len(prior),
	})

	candidates, err := o.generateCandidates(ctx, goal, prior)
	if err != nil {
		o.progress(ctx, bus.ProgressEvent{
			Stage: bus.StageFailed, Goal: goalName, RunID: runID, Error: err.Error(),
		})
		return nil, err
	}

	// Each candidate's test-fix loop is independent; run them in parallel.
	proposals := make([]*storage.Proposal, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			p := o.develop(gctx, goal, runID, cand, truth)
			proposals[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range proposals {
		if err := o.store.SaveProposal(p); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "save proposal")
		}
		telemetry.RecordProposal(p.Status)
	}
	result.Proposals = proposals

	if err := o.conclude(ctx, goalName, result); err != nil {
		return nil, err
	}

	count, err := o.store.CountInvocations(goalName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "count invocations")
	}
	if err := o.store.SetSynthesisMark(&storage.SynthesisMark{
		GoalName:    goalName,
		LastRunID:   runID,
		RecordCount: count,
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "set synthesis mark")
	}
	return result, nil
}

// conclude ranks the run's proposals against the incumbent and applies the
// promotion decision.
func (o *Orchestrator) conclude(ctx context.Context, goalName string, result *RunResult) error {
	var incumbent *storage.Proposal
	topID, err := o.registry.Top(goalName)
	if err != nil {
		return err
	}
	if topID != "" {
		incumbent, err = o.store.GetProposal(topID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageRead, "load incumbent proposal")
		}
	}

	decision := evaluate.Decide(result.Proposals, incumbent)
	if decision.Promoted && incumbent == nil {
		// First promotion: the displaced best is the fallback itself, so
		// the announced speedup is measured against its logged latencies.
		decision.Speedup = o.fallbackSpeedup(goalName, decision.Winner)
	}
	result.Winner = decision.Winner
	result.Promoted = decision.Promoted
	result.Speedup = decision.Speedup

	if decision.Winner == nil {
		o.progress(ctx, bus.ProgressEvent{
			Stage: bus.StageNoWinner, Goal: goalName, RunID: result.RunID,
			Message: "no accepted proposals this run",
		})
		o.logger.Warn(logging.CategorySynthesis, "no_winner", "run produced no accepted proposals", map[string]any{
			"goal": goalName, "run": result.RunID,
		})
		return nil
	}

	if decision.Promoted {
		if err := o.registry.Promote(goalName, []string{decision.Winner.ID}); err != nil {
			return err
		}
	}

	o.progress(ctx, bus.ProgressEvent{
		Stage:      bus.StageWinner,
		Goal:       goalName,
		RunID:      result.RunID,
		ProposalID: decision.Winner.ID,
		Accuracy:   decision.Winner.Accuracy,
		LatencyMS:  decision.Winner.LatencyMS,
		Speedup:    decision.Speedup,
		Message:    winnerMessage(decision),
	})
	o.logger.Info(logging.CategorySynthesis, "run_finished", "synthesis run finished", map[string]any{
		"goal": goalName, "run": result.RunID,
		"winner": decision.Winner.ID, "promoted": decision.Promoted,
	})
	return nil
}

// fallbackSpeedup derives a first promotion's speedup from the goal's logged
// fallback latencies. Zero when neither side has a usable measurement.
func (o *Orchestrator) fallbackSpeedup(goalName string, winner *storage.Proposal) float64 {
	if winner == nil || winner.LatencyMS <= 0 {
		return 0
	}
	records, err := o.store.QueryInvocations(goalName, storage.InvocationFilter{
		SolverID:    solver.FallbackID,
		SuccessOnly: true,
	})
	if err != nil || len(records) == 0 {
		return 0
	}
	samples := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.LatencyMS > 0 {
			samples = append(samples, rec.LatencyMS)
		}
	}
	if len(samples) == 0 {
		return 0
	}
	return median(samples) / winner.LatencyMS
}

func winnerMessage(d *evaluate.Decision) string {
	if !d.Promoted {
		return "winner did not beat the incumbent; registry unchanged"
	}
	if d.Speedup > 0 {
		return "winner promoted"
	}
	return "winner promoted into empty registry"
}

func (o *Orchestrator) progress(ctx context.Context, event bus.ProgressEvent) {
	if err := bus.PublishProgress(ctx, o.bus, event); err != nil {
		o.logger.Debug(logging.CategorySynthesis, "progress_drop", "progress event dropped", map[string]any{
			"error": err.Error(),
		})
	}
}
