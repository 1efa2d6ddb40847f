// Package cost tracks AI spend and enforces daily and monthly budgets over
// the invocation log. The tracker gates AI-backed solver attempts: once a
// budget is exhausted, further model calls are vetoed until the window rolls
// over, while synthesized solvers keep running for free.
package cost

import (
	"sync"
	"time"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/solver"
)

// spendStore provides historical spend totals.
type spendStore interface {
	SumCosts(since time.Time) (float64, error)
}

// Tracker tracks AI spend and enforces budgets.
type Tracker struct {
	store    spendStore
	notifier *BudgetNotifier

	mu          sync.RWMutex
	dailyCost   float64
	monthlyCost float64
	lastRefresh time.Time

	dailyBudget   float64
	monthlyBudget float64
}

// New creates a tracker seeded from the invocation log. Budgets of zero mean
// unlimited.
func New(store spendStore, dailyBudget, monthlyBudget float64) (*Tracker, error) {
	if store == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "cost tracker requires a spend store")
	}

	t := &Tracker{
		store:         store,
		notifier:      NewBudgetNotifier(),
		dailyBudget:   normalizeBudget(dailyBudget),
		monthlyBudget: normalizeBudget(monthlyBudget),
	}
	if err := t.refresh(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load historical spend")
	}
	return t, nil
}

// OnAlert registers a callback for budget threshold alerts.
func (t *Tracker) OnAlert(cb BudgetAlertCallback) {
	t.notifier.OnAlert(cb)
}

// refresh reloads window totals from the log.
func (t *Tracker) refresh() error {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily, err := t.store.SumCosts(dayStart)
	if err != nil {
		return err
	}
	monthly, err := t.store.SumCosts(monthStart)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.dailyCost = daily
	t.monthlyCost = monthly
	t.lastRefresh = now
	t.mu.Unlock()
	return nil
}

// Allow reports whether an AI-backed solver attempt may proceed. Non-AI
// solver kinds are always allowed. This is the budget gate consulted by the
// router before every attempt.
func (t *Tracker) Allow(kind solver.Kind) error {
	if kind != solver.KindFallback && kind != solver.KindAgentic {
		return nil
	}

	t.maybeRollover()

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.dailyBudget > 0 && t.dailyCost >= t.dailyBudget {
		return errors.New(errors.ErrCodeBudgetExceeded, "daily AI budget exhausted").
			WithContext("spent", t.dailyCost).
			WithContext("budget", t.dailyBudget)
	}
	if t.monthlyBudget > 0 && t.monthlyCost >= t.monthlyBudget {
		return errors.New(errors.ErrCodeBudgetExceeded, "monthly AI budget exhausted").
			WithContext("spent", t.monthlyCost).
			WithContext("budget", t.monthlyBudget)
	}
	return nil
}

// Record adds spend from a completed AI call and fires any threshold alerts.
func (t *Tracker) Record(cost float64) {
	if cost <= 0 {
		return
	}

	t.mu.Lock()
	t.dailyCost += cost
	t.monthlyCost += cost
	t.mu.Unlock()

	t.notifier.Check(t.Status())
}

// maybeRollover re-reads the log when the daily window has passed since the
// last refresh, so yesterday's spend stops counting against today.
func (t *Tracker) maybeRollover() {
	t.mu.RLock()
	stale := time.Now().UTC().Day() != t.lastRefresh.Day() ||
		time.Since(t.lastRefresh) > 24*time.Hour
	t.mu.RUnlock()

	if stale {
		// Refresh failure leaves the previous totals in place; the gate
		// stays conservative rather than opening on a read error.
		_ = t.refresh()
	}
}

// Status returns a snapshot of spend against budgets.
func (t *Tracker) Status() *BudgetStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := &BudgetStatus{
		DailyCost:      t.dailyCost,
		MonthlyCost:    t.monthlyCost,
		DailyBudget:    t.dailyBudget,
		MonthlyBudget:  t.monthlyBudget,
		DailyPercent:   budgetPercent(t.dailyCost, t.dailyBudget),
		MonthlyPercent: budgetPercent(t.monthlyCost, t.monthlyBudget),
	}
	status.DailyExceeded = t.dailyBudget > 0 && t.dailyCost >= t.dailyBudget
	status.MonthlyExceeded = t.monthlyBudget > 0 && t.monthlyCost >= t.monthlyBudget
	return status
}

// BudgetStatus is a point-in-time view of spend against budgets.
type BudgetStatus struct {
	DailyCost      float64 `json:"dailyCost"`
	MonthlyCost    float64 `json:"monthlyCost"`
	DailyBudget    float64 `json:"dailyBudget"`
	MonthlyBudget  float64 `json:"monthlyBudget"`
	DailyPercent   float64 `json:"dailyPercent"`
	MonthlyPercent float64 `json:"monthlyPercent"`

	DailyExceeded   bool `json:"dailyExceeded"`
	MonthlyExceeded bool `json:"monthlyExceeded"`
}

func budgetPercent(current, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return (current / limit) * 100
}

func normalizeBudget(limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return limit
}
