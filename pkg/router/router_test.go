package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telerrors "github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
)

type memStore struct {
	goals   map[string]*schema.Goal
	records []*storage.InvocationRecord
}

func newMemStore() *memStore {
	return &memStore{goals: make(map[string]*schema.Goal)}
}

func (m *memStore) GetGoal(name string) (*schema.Goal, error) {
	g, ok := m.goals[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g, nil
}

func (m *memStore) AppendInvocation(rec *storage.InvocationRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type staticChain struct {
	solvers []solver.Solver
}

func (s staticChain) Chain(goalName string) ([]solver.Solver, error) {
	return s.solvers, nil
}

// scriptedSolver fails or succeeds on demand.
type scriptedSolver struct {
	id     string
	kind   solver.Kind
	output any
	err    error
	calls  int
	block  time.Duration
}

func (s *scriptedSolver) ID() string        { return s.id }
func (s *scriptedSolver) Kind() solver.Kind { return s.kind }

func (s *scriptedSolver) Solve(ctx context.Context, goal *schema.Goal, args map[string]any) (*solver.Outcome, error) {
	s.calls++
	if s.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.block):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &solver.Outcome{Output: s.output}, nil
}

func sentimentGoal() *schema.Goal {
	return &schema.Goal{
		Name:        "analyze_sentiment",
		Description: "Classify the sentiment of a short piece of text.",
		Inputs:      []schema.Param{{Name: "text", Type: schema.String()}},
		Output: schema.Record(
			schema.Field{Name: "sentiment", Type: schema.Enum("positive", "negative", "neutral")},
			schema.Field{Name: "confidence", Type: schema.Number(0, 1)},
		),
	}
}

func okOutput() map[string]any {
	return map[string]any{"sentiment": "positive", "confidence": 0.9}
}

func TestInvokeRoutesToFallbackWhenRegistryEmpty(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback, output: okOutput()}
	r := New(store, staticChain{[]solver.Solver{fallback}}, nil, nil, Options{})

	out, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": "great"})
	require.NoError(t, err)
	assert.Equal(t, "positive", out.(map[string]any)["sentiment"])

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, solver.FallbackID, rec.SolverID)
	assert.True(t, rec.Success)
	assert.True(t, rec.Final)
	assert.Equal(t, 0, rec.AttemptRank)
}

func TestInvokePrefersTopRankedSolver(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	top := &scriptedSolver{id: "prop-1", kind: solver.KindProgram, output: okOutput()}
	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback, output: okOutput()}
	r := New(store, staticChain{[]solver.Solver{top, fallback}}, nil, nil, Options{})

	_, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, top.calls)
	assert.Equal(t, 0, fallback.calls, "fallback must not run when a ranked solver succeeds")
}

func TestInvokeCascadesOnFailure(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	broken := &scriptedSolver{id: "prop-1", kind: solver.KindProgram,
		err: telerrors.New(telerrors.ErrCodeSolverExecution, "boom")}
	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback, output: okOutput()}
	r := New(store, staticChain{[]solver.Solver{broken, fallback}}, nil, nil, Options{})

	out, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": "x"})
	require.NoError(t, err)
	assert.NotNil(t, out)

	// One failed sub-record plus one success record equals solvers tried.
	require.Len(t, store.records, 2)
	assert.False(t, store.records[0].Success)
	assert.False(t, store.records[0].Final)
	assert.Equal(t, "prop-1", store.records[0].SolverID)
	assert.True(t, store.records[1].Success)
	assert.True(t, store.records[1].Final)
	assert.Equal(t, 1, store.records[1].AttemptRank)
}

func TestInvokeExhaustsAllSolvers(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	first := &scriptedSolver{id: "prop-1", kind: solver.KindProgram,
		err: telerrors.New(telerrors.ErrCodeSolverExecution, "bad program")}
	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback,
		err: telerrors.New(telerrors.ErrCodeModelAPIError, "model down")}
	r := New(store, staticChain{[]solver.Solver{first, fallback}}, nil, nil, Options{})

	_, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": "x"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeSolversExhausted))

	// All records failed; the last one is terminal.
	require.Len(t, store.records, 2)
	assert.False(t, store.records[0].Final)
	assert.True(t, store.records[1].Final)
	assert.False(t, store.records[1].Success)
}

func TestInvokeRejectsSchemaViolationBeforeSolvers(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback, output: okOutput()}
	r := New(store, staticChain{[]solver.Solver{fallback}}, nil, nil, Options{})

	_, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": 42})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeSchemaMismatch))
	assert.Equal(t, 0, fallback.calls, "no solver may run on schema failure")
	assert.Empty(t, store.records, "schema failures are rejected before logging")
}

func TestInvokeUnknownGoal(t *testing.T) {
	r := New(newMemStore(), staticChain{nil}, nil, nil, Options{})

	_, err := r.Invoke(context.Background(), "missing", map[string]any{})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeGoalNotFound))
}

func TestInvokeTimeoutFallsThrough(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	hung := &scriptedSolver{id: "prop-slow", kind: solver.KindProgram,
		block: 10 * time.Second, output: okOutput()}
	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback, output: okOutput()}
	r := New(store, staticChain{[]solver.Solver{hung, fallback}}, nil, nil, Options{
		SolverTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	out, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": "x"})
	require.NoError(t, err, "fallback should rescue the hung solver")
	assert.NotNil(t, out)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, store.records, 2)
	assert.Contains(t, store.records[0].Error, "timed out")
}

type denyBudget struct{ recorded float64 }

func (d *denyBudget) Allow(kind solver.Kind) error {
	return telerrors.New(telerrors.ErrCodeBudgetExceeded, "daily budget exhausted")
}
func (d *denyBudget) Record(cost float64) { d.recorded += cost }

func TestInvokeBudgetGuardBlocksAIAttempt(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()

	fallback := &scriptedSolver{id: solver.FallbackID, kind: solver.KindFallback, output: okOutput()}
	r := New(store, staticChain{[]solver.Solver{fallback}}, &denyBudget{}, nil, Options{})

	_, err := r.Invoke(context.Background(), "analyze_sentiment", map[string]any{"text": "x"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeSolversExhausted))
	assert.Equal(t, 0, fallback.calls, "budget guard must veto the AI attempt")
}
