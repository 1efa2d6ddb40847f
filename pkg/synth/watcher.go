package synth

import (
	"context"
	"sync"
	"time"

	"github.com/teleologic/telos/pkg/bus"
	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/storage"
)

// watchStore is the storage surface the watcher needs.
type watchStore interface {
	AddObserver(observer storage.Observer)
	CountInvocations(goalName string) (int, error)
	GetSynthesisMark(goalName string) (*storage.SynthesisMark, error)
}

// Watcher starts synthesis runs automatically once enough new invocation
// records have accumulated for a goal since its last run. Trigger detection
// rides the storage event stream; actual runs go through a task queue so a
// burst of invocations enqueues a goal at most once.
type Watcher struct {
	store     watchStore
	orch      *Orchestrator
	bus       bus.Bus
	logger    *logging.Logger
	threshold int

	mu     sync.Mutex
	queued map[string]bool
}

// NewWatcher builds a watcher. threshold is the record-count trigger; zero
// disables watching entirely.
func NewWatcher(store watchStore, orch *Orchestrator, b bus.Bus, logger *logging.Logger, threshold int) *Watcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{
		store:     store,
		orch:      orch,
		bus:       b,
		logger:    logger,
		threshold: threshold,
		queued:    make(map[string]bool),
	}
}

// Start registers the trigger observer and launches the worker. It returns
// immediately; the worker runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if w.threshold <= 0 {
		return
	}

	w.store.AddObserver(storage.ObserverFunc(func(event storage.Event) {
		if event.Type != storage.EventInvocationLogged {
			return
		}
		w.check(ctx, event.GoalName)
	}))

	go w.work(ctx)
}

// check enqueues a goal when its new-record count has crossed the threshold
// and it is not already waiting.
func (w *Watcher) check(ctx context.Context, goalName string) {
	w.mu.Lock()
	if w.queued[goalName] {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	due, err := w.due(goalName)
	if err != nil {
		w.logger.Warn(logging.CategorySynthesis, "trigger_check_failed", "trigger check failed", map[string]any{
			"goal": goalName, "error": err.Error(),
		})
		return
	}
	if !due {
		return
	}

	w.mu.Lock()
	if w.queued[goalName] {
		w.mu.Unlock()
		return
	}
	w.queued[goalName] = true
	w.mu.Unlock()

	if err := w.bus.Queue(bus.QueueSynthesis).Push(ctx, []byte(goalName)); err != nil {
		w.mu.Lock()
		delete(w.queued, goalName)
		w.mu.Unlock()
		return
	}
	w.logger.Info(logging.CategorySynthesis, "auto_trigger", "goal queued for synthesis", map[string]any{
		"goal": goalName,
	})
}

// due reports whether the goal has accumulated threshold new final records
// since its last synthesis mark.
func (w *Watcher) due(goalName string) (bool, error) {
	count, err := w.store.CountInvocations(goalName)
	if err != nil {
		return false, err
	}

	baseline := 0
	mark, err := w.store.GetSynthesisMark(goalName)
	if err != nil && err != storage.ErrNotFound {
		return false, err
	}
	if mark != nil {
		baseline = mark.RecordCount
	}
	return count-baseline >= w.threshold, nil
}

// work pulls queued goals and runs synthesis for each, one at a time.
func (w *Watcher) work(ctx context.Context) {
	queue := w.bus.Queue(bus.QueueSynthesis)
	for {
		task, err := queue.Pull(ctx)
		if err != nil {
			return
		}
		goalName := string(task.Data)

		_, err = w.orch.Synthesize(ctx, goalName)

		w.mu.Lock()
		delete(w.queued, goalName)
		w.mu.Unlock()

		if err != nil {
			// An in-flight manual run or a thin truth corpus is expected;
			// anything else is worth surfacing.
			if !errors.IsCode(err, errors.ErrCodeSynthesisInFlight) &&
				!errors.IsCode(err, errors.ErrCodeSynthesisNoTruth) {
				w.logger.Error(logging.CategorySynthesis, "auto_run_failed", "automatic synthesis failed", map[string]any{
					"goal": goalName, "error": err.Error(),
				})
			}
		}
		_ = queue.Ack(ctx, task.ID)

		// Give storage a beat before trigger checks resume for this goal.
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}
