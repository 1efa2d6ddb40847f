package synth

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/registry"
	"github.com/teleologic/telos/pkg/router"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
)

// The full lifecycle against a real database: a fresh goal answers through
// the AI fallback, ground truth accumulates, synthesis promotes a passing
// program, and from then on invocations route to the program without
// touching the model.
func TestLifecycleFromFallbackToPromotedProgram(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "telos.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateGoal(doubleGoal()))

	provider := &scriptedProvider{responses: []string{
		"8",                                 // fallback answer for n=4
		candidateJSON("program", "PROG_OK"), // synthesis candidate
	}}

	reg, err := registry.New(store, doubleRunner{}, provider, model.Pricing{}, 8)
	require.NoError(t, err)
	rt := router.New(store, reg, nil, nil, router.Options{})

	// Only the fallback exists, so the first call is answered by the model.
	out, err := rt.Invoke(context.Background(), "double", map[string]any{"n": 4})
	require.NoError(t, err)
	assert.Equal(t, float64(8), out)

	records, err := store.QueryInvocations("double", storage.InvocationFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, solver.FallbackID, records[0].SolverID)
	assert.True(t, records[0].Final)

	for i := 1; i <= 6; i++ {
		args := map[string]any{"n": float64(i)}
		require.NoError(t, store.UpsertTruth(&storage.TruthEntry{
			GoalName:     "double",
			InputKey:     schema.CanonicalKey(args),
			ArgsJSON:     schema.CanonicalJSON(args),
			ExpectedJSON: fmt.Sprintf("%d", 2*i),
		}))
	}

	orch := New(store, reg, provider, model.Pricing{}, doubleRunner{}, nil, nil, Options{
		AccuracyThreshold: 1.0,
		IterationBudget:   3,
		CandidateCount:    1,
		BenchmarkTrials:   3,
		MinTruthEntries:   5,
	})
	result, err := orch.Synthesize(context.Background(), "double")
	require.NoError(t, err)
	require.NotNil(t, result.Winner)
	require.True(t, result.Promoted)

	top, err := reg.Top("double")
	require.NoError(t, err)
	assert.Equal(t, result.Winner.ID, top)

	// The promoted program now outranks the fallback; the model is idle.
	modelCalls := provider.calls
	out, err = rt.Invoke(context.Background(), "double", map[string]any{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
	assert.Equal(t, modelCalls, provider.calls)

	records, err = store.QueryInvocations("double", storage.InvocationFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	last := records[1]
	assert.Equal(t, result.Winner.ID, last.SolverID)
	assert.Equal(t, 0, last.AttemptRank)
	assert.True(t, last.Success)
	assert.Nil(t, last.Cost)
}
