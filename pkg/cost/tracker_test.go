package cost

import (
	"testing"
	"time"

	telerrors "github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/solver"
)

type fakeSpendStore struct {
	total float64
	err   error
}

func (f *fakeSpendStore) SumCosts(since time.Time) (float64, error) {
	return f.total, f.err
}

func TestTrackerAllowsNonAISolvers(t *testing.T) {
	tracker, err := New(&fakeSpendStore{total: 999}, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := tracker.Allow(solver.KindProgram); err != nil {
		t.Fatalf("program solvers must never be budget-gated, got %v", err)
	}
}

func TestTrackerVetoesWhenDailyExhausted(t *testing.T) {
	tracker, err := New(&fakeSpendStore{total: 5}, 5, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = tracker.Allow(solver.KindFallback)
	if err == nil {
		t.Fatal("expected daily budget veto")
	}
	if !telerrors.IsCode(err, telerrors.ErrCodeBudgetExceeded) {
		t.Fatalf("expected BUDGET_EXCEEDED, got %v", err)
	}
}

func TestTrackerRecordAccumulates(t *testing.T) {
	tracker, err := New(&fakeSpendStore{}, 1.00, 10.00)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := tracker.Allow(solver.KindFallback); err != nil {
		t.Fatalf("fresh tracker should allow, got %v", err)
	}

	tracker.Record(0.60)
	tracker.Record(0.60)

	if err := tracker.Allow(solver.KindAgentic); err == nil {
		t.Fatal("expected veto after recorded spend crossed the daily budget")
	}

	status := tracker.Status()
	if !status.DailyExceeded {
		t.Fatal("expected DailyExceeded")
	}
	if status.MonthlyExceeded {
		t.Fatal("monthly budget should still have headroom")
	}
}

func TestTrackerZeroBudgetsAreUnlimited(t *testing.T) {
	tracker, err := New(&fakeSpendStore{total: 100000}, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tracker.Allow(solver.KindFallback); err != nil {
		t.Fatalf("zero budgets mean unlimited, got %v", err)
	}
}

func TestNotifierFiresThresholdsOnce(t *testing.T) {
	tracker, err := New(&fakeSpendStore{}, 1.00, 100.00)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var alerts []BudgetAlert
	tracker.OnAlert(func(alert BudgetAlert) {
		alerts = append(alerts, alert)
	})

	tracker.Record(0.80) // 80% daily: warning
	if len(alerts) != 1 || alerts[0].Level != BudgetAlertWarning {
		t.Fatalf("expected one warning alert, got %+v", alerts)
	}

	tracker.Record(0.05) // still below critical, already fired warning
	if len(alerts) != 1 {
		t.Fatalf("warning must fire once, got %d alerts", len(alerts))
	}

	tracker.Record(0.30) // past 100%: critical and exceeded are new levels
	var sawExceeded bool
	for _, a := range alerts[1:] {
		if a.Level == BudgetAlertExceeded && a.BudgetType == BudgetTypeDaily {
			sawExceeded = true
		}
	}
	if !sawExceeded {
		t.Fatalf("expected daily exceeded alert, got %+v", alerts)
	}
}
