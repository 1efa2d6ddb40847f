package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telerrors "github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/sandbox"
	"github.com/teleologic/telos/pkg/schema"
)

type fakeProvider struct {
	text string
	err  error
	last model.CompletionRequest
}

func (f *fakeProvider) ID() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req model.CompletionRequest) (*model.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.CompletionResponse{
		Text:             f.text,
		PromptTokens:     100,
		CompletionTokens: 20,
	}, nil
}

type fakeRunner struct {
	result *sandbox.Result
	err    error
	input  string
}

func (f *fakeRunner) Run(ctx context.Context, source, inputJSON string) (*sandbox.Result, error) {
	f.input = inputJSON
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testGoal() *schema.Goal {
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

func TestFallbackSolve(t *testing.T) {
	provider := &fakeProvider{text: `{"sentiment":"positive","confidence":0.92}`}
	s := NewFallback(provider, model.Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.60})

	require.Equal(t, FallbackID, s.ID())
	require.Equal(t, KindFallback, s.Kind())

	outcome, err := s.Solve(context.Background(), testGoal(), map[string]any{"text": "love it"})
	require.NoError(t, err)

	out := outcome.Output.(map[string]any)
	assert.Equal(t, "positive", out["sentiment"])

	require.NotNil(t, outcome.Cost)
	assert.Greater(t, *outcome.Cost, 0.0)

	assert.True(t, provider.last.JSONOnly)
	assert.Contains(t, provider.last.Prompt, "analyze_sentiment")
	assert.Contains(t, provider.last.Prompt, `"text":"love it"`)
}

func TestFallbackRejectsBadOutput(t *testing.T) {
	provider := &fakeProvider{text: `{"sentiment":"ecstatic","confidence":0.9}`}
	s := NewFallback(provider, model.Pricing{})

	_, err := s.Solve(context.Background(), testGoal(), map[string]any{"text": "x"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeSchemaMismatch))
}

func TestParseOutputStripsCodeFences(t *testing.T) {
	out, err := ParseOutput(testGoal(), "```json\n{\"sentiment\":\"neutral\",\"confidence\":0.5}\n```")
	require.NoError(t, err)
	assert.Equal(t, "neutral", out.(map[string]any)["sentiment"])

	_, err = ParseOutput(testGoal(), "not json at all")
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeModelBadOutput))
}

func TestAgenticSolverIdentity(t *testing.T) {
	provider := &fakeProvider{text: `{"sentiment":"negative","confidence":0.8}`}
	s := NewAgentic("prop-123", provider, model.Pricing{})

	assert.Equal(t, "prop-123", s.ID())
	assert.Equal(t, KindAgentic, s.Kind())

	outcome, err := s.Solve(context.Background(), testGoal(), map[string]any{"text": "awful"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Cost)
}

func TestProgramSolve(t *testing.T) {
	runner := &fakeRunner{result: &sandbox.Result{
		ExitCode: 0,
		Stdout:   `{"sentiment":"positive","confidence":0.99}`,
	}}
	s := NewProgram("prop-42", "print(...)", runner)

	assert.Equal(t, KindProgram, s.Kind())

	outcome, err := s.Solve(context.Background(), testGoal(), map[string]any{"text": "nice"})
	require.NoError(t, err)
	assert.Nil(t, outcome.Cost, "program solvers have no monetary cost")
	assert.Equal(t, `{"text":"nice"}`, runner.input)
}

func TestProgramSolveNonZeroExit(t *testing.T) {
	runner := &fakeRunner{result: &sandbox.Result{
		ExitCode: 1,
		Stderr:   "TypeError: everything broke",
	}}
	s := NewProgram("prop-42", "src", runner)

	_, err := s.Solve(context.Background(), testGoal(), map[string]any{"text": "x"})
	require.Error(t, err)
	assert.True(t, telerrors.IsCode(err, telerrors.ErrCodeSolverExecution))
}

func TestProgramSolveInvalidOutput(t *testing.T) {
	runner := &fakeRunner{result: &sandbox.Result{
		ExitCode: 0,
		Stdout:   `{"sentiment":"positive"}`,
	}}
	s := NewProgram("prop-42", "src", runner)

	_, err := s.Solve(context.Background(), testGoal(), map[string]any{"text": "x"})
	require.Error(t, err, "missing confidence field must fail schema check")
}
