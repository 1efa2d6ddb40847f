package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleologic/telos/pkg/bus"
	telerrors "github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/storage"
	"github.com/teleologic/telos/pkg/synth"
	"github.com/teleologic/telos/pkg/truth"
)

type memStore struct {
	goals     map[string]*schema.Goal
	truth     map[string]*storage.TruthEntry
	proposals map[string]*storage.Proposal
	chain     []*storage.RegistryEntry
	records   []*storage.InvocationRecord
}

func newMemStore() *memStore {
	return &memStore{
		goals:     make(map[string]*schema.Goal),
		truth:     make(map[string]*storage.TruthEntry),
		proposals: make(map[string]*storage.Proposal),
	}
}

func (m *memStore) CreateGoal(goal *schema.Goal) error {
	if _, ok := m.goals[goal.Name]; ok {
		return telerrors.New(telerrors.ErrCodeGoalExists, "goal is already declared")
	}
	m.goals[goal.Name] = goal
	return nil
}

func (m *memStore) GetGoal(name string) (*schema.Goal, error) {
	g, ok := m.goals[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g, nil
}

func (m *memStore) ListGoals() ([]*schema.Goal, error) {
	var out []*schema.Goal
	for _, g := range m.goals {
		out = append(out, g)
	}
	return out, nil
}

func (m *memStore) ListProposals(goalName string) ([]*storage.Proposal, error) {
	var out []*storage.Proposal
	for _, p := range m.proposals {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) GetProposal(id string) (*storage.Proposal, error) {
	p, ok := m.proposals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetRegistryChain(goalName string) ([]*storage.RegistryEntry, error) {
	return m.chain, nil
}

func (m *memStore) QueryInvocations(goalName string, filter storage.InvocationFilter) ([]*storage.InvocationRecord, error) {
	return m.records, nil
}

func (m *memStore) UpsertTruth(entry *storage.TruthEntry) error {
	m.truth[entry.InputKey] = entry
	return nil
}

func (m *memStore) GetAllTruth(goalName string) (map[string]*storage.TruthEntry, error) {
	return m.truth, nil
}

func (m *memStore) CountTruth(goalName string) (int, error) { return len(m.truth), nil }

type fakeInvoker struct {
	output any
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, goalName string, args map[string]any) (any, error) {
	return f.output, f.err
}

type fakeSynthesizer struct {
	result *synth.RunResult
	err    error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, goalName string) (*synth.RunResult, error) {
	return f.result, f.err
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

func newTestServer(store *memStore, inv invoker, syn synthesizer, b bus.Bus) *httptest.Server {
	srv := New(Config{
		Store:  store,
		Router: inv,
		Truth:  truth.NewService(store, nil),
		Synth:  syn,
		Bus:    b,
	})
	return httptest.NewServer(srv.Routes())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestDeclareGoal(t *testing.T) {
	store := newMemStore()
	ts := newTestServer(store, &fakeInvoker{}, &fakeSynthesizer{}, nil)
	defer ts.Close()

	body := map[string]any{
		"name":        "analyze_sentiment",
		"description": "Classify sentiment.",
		"inputs":      []map[string]any{{"name": "text", "type": map[string]any{"kind": "string"}}},
		"output": map[string]any{
			"kind": "record",
			"fields": []map[string]any{
				{"name": "sentiment", "type": map[string]any{"kind": "enum", "values": []string{"positive", "negative", "neutral"}}},
				{"name": "confidence", "type": map[string]any{"kind": "number", "min": 0, "max": 1}},
			},
		},
	}

	resp := postJSON(t, ts.URL+"/api/goals", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	require.Contains(t, store.goals, "analyze_sentiment")

	// Declaring the same name again conflicts.
	resp = postJSON(t, ts.URL+"/api/goals", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestDeclareGoalRejectsBadSchema(t *testing.T) {
	ts := newTestServer(newMemStore(), &fakeInvoker{}, &fakeSynthesizer{}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/goals", map[string]any{
		"name":   "broken",
		"inputs": []map[string]any{{"name": "x", "type": map[string]any{"kind": "enum"}}},
		"output": map[string]any{"kind": "string"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestInvoke(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()
	inv := &fakeInvoker{output: map[string]any{"sentiment": "positive", "confidence": 0.9}}
	ts := newTestServer(store, inv, &fakeSynthesizer{}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/goals/analyze_sentiment/invoke",
		map[string]any{"args": map[string]any{"text": "great"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out invokeResponse
	decodeResponse(t, resp, &out)
	assert.Equal(t, "positive", out.Output.(map[string]any)["sentiment"])
}

func TestInvokeErrorMapping(t *testing.T) {
	cases := []struct {
		code   telerrors.ErrorCode
		status int
	}{
		{telerrors.ErrCodeGoalNotFound, http.StatusNotFound},
		{telerrors.ErrCodeSchemaMismatch, http.StatusBadRequest},
		{telerrors.ErrCodeSolversExhausted, http.StatusBadGateway},
		{telerrors.ErrCodeBudgetExceeded, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		inv := &fakeInvoker{err: telerrors.New(tc.code, "boom")}
		ts := newTestServer(newMemStore(), inv, &fakeSynthesizer{}, nil)

		resp := postJSON(t, ts.URL+"/api/goals/g/invoke", map[string]any{"args": map[string]any{}})
		assert.Equal(t, tc.status, resp.StatusCode, "code %s", tc.code)
		resp.Body.Close()
		ts.Close()
	}
}

func TestPutAndGetTruth(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()
	ts := newTestServer(store, &fakeInvoker{}, &fakeSynthesizer{}, nil)
	defer ts.Close()

	raw, _ := json.Marshal(map[string]any{
		"args":     map[string]any{"text": "love it"},
		"expected": map[string]any{"sentiment": "positive", "confidence": 1},
	})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/goals/analyze_sentiment/truth", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/goals/analyze_sentiment/truth")
	require.NoError(t, err)
	var entries map[string]*storage.TruthEntry
	decodeResponse(t, resp, &entries)
	assert.Len(t, entries, 1)
}

func TestSynthesizeConflict(t *testing.T) {
	store := newMemStore()
	store.goals["analyze_sentiment"] = sentimentGoal()
	syn := &fakeSynthesizer{err: telerrors.New(telerrors.ErrCodeSynthesisInFlight, "already running")}
	ts := newTestServer(store, &fakeInvoker{}, syn, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/goals/analyze_sentiment/synthesize", map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestBudgetDisabled(t *testing.T) {
	ts := newTestServer(newMemStore(), &fakeInvoker{}, &fakeSynthesizer{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/budget")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(newMemStore(), &fakeInvoker{}, &fakeSynthesizer{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSynthesisStream(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ts := newTestServer(newMemStore(), &fakeInvoker{}, &fakeSynthesizer{}, b)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/synthesis?goal=analyze_sentiment"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Let the subscription land before publishing.
	time.Sleep(50 * time.Millisecond)
	err = bus.PublishProgress(context.Background(), b, bus.ProgressEvent{
		Stage: bus.StageWinner, Goal: "analyze_sentiment", RunID: "run-1", Speedup: 12.5,
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event bus.ProgressEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, bus.StageWinner, event.Stage)
	assert.Equal(t, 12.5, event.Speedup)
}
