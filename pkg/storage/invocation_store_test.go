package storage

import (
	"sync"
	"testing"
	"time"
)

func TestAppendAndQueryInvocations(t *testing.T) {
	store := newTestStore(t)
	createTestGoal(t, store, "analyze_sentiment")

	cost := 0.004
	failed := &InvocationRecord{
		GoalName:    "analyze_sentiment",
		InputKey:    "abc",
		ArgsJSON:    `{"text":"hello"}`,
		SolverID:    "prop-1",
		AttemptRank: 0,
		LatencyMS:   2.1,
		Success:     false,
		Final:       false,
		Error:       "solver panicked",
	}
	if err := store.AppendInvocation(failed); err != nil {
		t.Fatalf("append failed attempt: %v", err)
	}
	if failed.ID == "" {
		t.Fatal("expected record ID to be assigned")
	}

	final := &InvocationRecord{
		GoalName:    "analyze_sentiment",
		InputKey:    "abc",
		ArgsJSON:    `{"text":"hello"}`,
		OutputJSON:  `{"sentiment":"positive","confidence":0.9}`,
		SolverID:    "ai-fallback",
		AttemptRank: 1,
		LatencyMS:   412.0,
		Cost:        &cost,
		Success:     true,
		Final:       true,
	}
	if err := store.AppendInvocation(final); err != nil {
		t.Fatalf("append final record: %v", err)
	}

	all, err := store.QueryInvocations("analyze_sentiment", InvocationFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	finals, err := store.QueryInvocations("analyze_sentiment", InvocationFilter{FinalOnly: true})
	if err != nil {
		t.Fatalf("query finals: %v", err)
	}
	if len(finals) != 1 || finals[0].SolverID != "ai-fallback" {
		t.Fatalf("expected 1 final ai-fallback record, got %+v", finals)
	}
	if finals[0].Cost == nil || *finals[0].Cost != cost {
		t.Fatalf("expected cost %f to round-trip, got %+v", cost, finals[0].Cost)
	}

	count, err := store.CountInvocations("analyze_sentiment")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 final record counted, got %d", count)
	}
}

func TestQueryInvocationsSince(t *testing.T) {
	store := newTestStore(t)
	createTestGoal(t, store, "analyze_sentiment")

	old := &InvocationRecord{
		GoalName:  "analyze_sentiment",
		InputKey:  "k1",
		ArgsJSON:  `{"text":"a"}`,
		SolverID:  "ai-fallback",
		Success:   true,
		Final:     true,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	recent := &InvocationRecord{
		GoalName: "analyze_sentiment",
		InputKey: "k2",
		ArgsJSON: `{"text":"b"}`,
		SolverID: "ai-fallback",
		Success:  true,
		Final:    true,
	}
	if err := store.AppendInvocation(old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := store.AppendInvocation(recent); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	records, err := store.QueryInvocations("analyze_sentiment", InvocationFilter{
		Since: time.Now().UTC().Add(-1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(records) != 1 || records[0].InputKey != "k2" {
		t.Fatalf("expected only the recent record, got %+v", records)
	}
}

func TestConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	createTestGoal(t, store, "analyze_sentiment")

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- store.AppendInvocation(&InvocationRecord{
					GoalName: "analyze_sentiment",
					InputKey: "k",
					ArgsJSON: `{"text":"x"}`,
					SolverID: "ai-fallback",
					Success:  true,
					Final:    true,
				})
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append failed: %v", err)
		}
	}

	count, err := store.CountInvocations("analyze_sentiment")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != writers*perWriter {
		t.Fatalf("expected %d records, got %d (lost appends)", writers*perWriter, count)
	}
}

func TestInvocationObserverNotified(t *testing.T) {
	store := newTestStore(t)
	createTestGoal(t, store, "analyze_sentiment")

	events := make(chan Event, 1)
	store.AddObserver(ObserverFunc(func(e Event) {
		if e.Type == EventInvocationLogged {
			events <- e
		}
	}))

	if err := store.AppendInvocation(&InvocationRecord{
		GoalName: "analyze_sentiment",
		InputKey: "k",
		ArgsJSON: `{"text":"x"}`,
		SolverID: "ai-fallback",
		Success:  true,
		Final:    true,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case e := <-events:
		if e.GoalName != "analyze_sentiment" {
			t.Fatalf("unexpected event goal: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not notified")
	}
}
