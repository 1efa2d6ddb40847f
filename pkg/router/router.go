// Package router dispatches goal invocations through the ranked solver
// chain. The cascade is an explicit ordered iteration with early return:
// fastest and cheapest solvers first, AI fallback last. Every attempt lands
// in the execution log whether it succeeded or not.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
	"github.com/teleologic/telos/pkg/telemetry"
)

// goalStore is the storage surface the router needs.
type goalStore interface {
	GetGoal(name string) (*schema.Goal, error)
	AppendInvocation(rec *storage.InvocationRecord) error
}

// chainSource supplies the ranked solver chain, fallback included.
type chainSource interface {
	Chain(goalName string) ([]solver.Solver, error)
}

// BudgetGuard vetoes AI-backed attempts when spend limits are reached.
type BudgetGuard interface {
	Allow(kind solver.Kind) error
	Record(cost float64)
}

// Options tunes the cascade.
type Options struct {
	// SolverTimeout bounds each non-AI attempt.
	SolverTimeout time.Duration
	// AITimeout bounds AI-backed attempts (fallback and agentic). A hung
	// model call must not block the cascade indefinitely.
	AITimeout time.Duration
}

// Router executes invocations.
type Router struct {
	store  goalStore
	chains chainSource
	budget BudgetGuard
	logger *logging.Logger
	opts   Options
}

// New builds a router. budget may be nil (no spend limits).
func New(store goalStore, chains chainSource, budget BudgetGuard, logger *logging.Logger, opts Options) *Router {
	if opts.SolverTimeout <= 0 {
		opts.SolverTimeout = 10 * time.Second
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{
		store:  store,
		chains: chains,
		budget: budget,
		logger: logger,
		opts:   opts,
	}
}

// Invoke validates args against the goal's schema, then tries each solver in
// rank order until one succeeds. The first success is returned; total
// exhaustion surfaces SOLVERS_EXHAUSTED. Every attempt writes exactly one
// invocation record; the terminal attempt is marked final.
func (r *Router) Invoke(ctx context.Context, goalName string, args map[string]any) (any, error) {
	goal, err := r.store.GetGoal(goalName)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.New(errors.ErrCodeGoalNotFound, "goal is not declared").
				WithContext("goal", goalName)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load goal")
	}

	// Schema errors reject the call before any solver is tried, and are the
	// one failure mode that does not produce an invocation record.
	if err := goal.CheckArgs(args); err != nil {
		return nil, err
	}

	chain, err := r.chains.Chain(goalName)
	if err != nil {
		return nil, err
	}

	inputKey := schema.CanonicalKey(args)
	argsJSON := schema.CanonicalJSON(args)

	var lastErr error
	for rank, s := range chain {
		terminal := rank == len(chain)-1

		outcome, latency, attemptErr := r.attempt(ctx, s, goal, args)

		rec := &storage.InvocationRecord{
			GoalName:    goalName,
			InputKey:    inputKey,
			ArgsJSON:    argsJSON,
			SolverID:    s.ID(),
			AttemptRank: rank,
			LatencyMS:   float64(latency.Microseconds()) / 1000,
		}

		if attemptErr == nil {
			rec.Success = true
			rec.Final = true
			rec.Cost = outcome.Cost
			if out, err := json.Marshal(outcome.Output); err == nil {
				rec.OutputJSON = string(out)
			}
			r.logAppend(rec)
			telemetry.RecordAttempt(string(s.Kind()), true, latency)
			telemetry.RecordCallDepth(rank + 1)
			if outcome.Cost != nil {
				telemetry.RecordAISpend(*outcome.Cost)
				if r.budget != nil {
					r.budget.Record(*outcome.Cost)
				}
			}
			r.logger.Info(logging.CategoryRouter, "invoke", "call resolved", map[string]any{
				"goal":   goalName,
				"solver": s.ID(),
				"rank":   rank,
			})
			return outcome.Output, nil
		}

		// Failed attempt: log it as a sub-record and fall through to the
		// next rank. The last rank's failure is the call's terminal record.
		rec.Success = false
		rec.Final = terminal
		rec.Error = attemptErr.Error()
		r.logAppend(rec)
		telemetry.RecordAttempt(string(s.Kind()), false, latency)

		r.logger.Warn(logging.CategoryRouter, "attempt_failed", "solver failed, cascading", map[string]any{
			"goal":   goalName,
			"solver": s.ID(),
			"rank":   rank,
			"error":  attemptErr.Error(),
		})
		lastErr = attemptErr

		// Context cancellation ends the cascade; trying further solvers
		// against a dead context only burns log rows.
		if ctx.Err() != nil {
			break
		}
	}

	telemetry.RecordCallDepth(len(chain))
	return nil, errors.Wrap(lastErr, errors.ErrCodeSolversExhausted, "every ranked solver failed").
		WithContext("goal", goalName).
		WithContext("solvers_tried", len(chain))
}

// attempt runs one solver under its timeout.
func (r *Router) attempt(ctx context.Context, s solver.Solver, goal *schema.Goal, args map[string]any) (*solver.Outcome, time.Duration, error) {
	aiBacked := s.Kind() == solver.KindFallback || s.Kind() == solver.KindAgentic

	if aiBacked && r.budget != nil {
		if err := r.budget.Allow(s.Kind()); err != nil {
			return nil, 0, err
		}
	}

	timeout := r.opts.SolverTimeout
	if aiBacked {
		timeout = r.opts.AITimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome, err := s.Solve(attemptCtx, goal, args)
	latency := time.Since(start)

	if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
		err = errors.Wrap(err, errors.ErrCodeSolverTimeout, "solver timed out").
			WithContext("solver", s.ID()).
			WithContext("timeout", timeout.String())
	}
	return outcome, latency, err
}

func (r *Router) logAppend(rec *storage.InvocationRecord) {
	if err := r.store.AppendInvocation(rec); err != nil {
		r.logger.Error(logging.CategoryStorage, "append_failed", "invocation record lost", map[string]any{
			"goal":  rec.GoalName,
			"error": err.Error(),
		})
	}
}
