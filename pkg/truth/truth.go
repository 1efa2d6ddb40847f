// Package truth manages the ground-truth corpus that synthesis scores
// candidates against. Entries arrive two ways: supplied directly by a caller,
// or promoted from logged invocation outputs after a reviewer approves them.
package truth

import (
	"encoding/json"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/storage"
)

// truthStore is the storage surface this service needs.
type truthStore interface {
	GetGoal(name string) (*schema.Goal, error)
	UpsertTruth(entry *storage.TruthEntry) error
	GetAllTruth(goalName string) (map[string]*storage.TruthEntry, error)
	CountTruth(goalName string) (int, error)
	QueryInvocations(goalName string, filter storage.InvocationFilter) ([]*storage.InvocationRecord, error)
}

// Verdict is a reviewer's decision on a logged output.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Validator decides whether a logged output is trustworthy enough to become
// ground truth. Implementations may be a human review queue or another agent.
type Validator interface {
	Validate(goal *schema.Goal, args map[string]any, output any) (Verdict, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(goal *schema.Goal, args map[string]any, output any) (Verdict, error)

func (f ValidatorFunc) Validate(goal *schema.Goal, args map[string]any, output any) (Verdict, error) {
	return f(goal, args, output)
}

// Service validates and records ground truth for goals.
type Service struct {
	store  truthStore
	logger *logging.Logger
}

func NewService(store truthStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{store: store, logger: logger}
}

// Put records an (input -> expected output) pair for a goal. Both sides are
// checked against the goal's schema before anything is written; the input is
// canonicalized so argument order never produces duplicate keys. Re-submitting
// the same pair overwrites in place.
func (s *Service) Put(goalName string, args map[string]any, expected any) (*storage.TruthEntry, error) {
	goal, err := s.loadGoal(goalName)
	if err != nil {
		return nil, err
	}
	if err := goal.CheckArgs(args); err != nil {
		return nil, err
	}
	if err := goal.CheckOutput(expected); err != nil {
		return nil, err
	}

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "encode expected output")
	}

	entry := &storage.TruthEntry{
		GoalName:     goalName,
		InputKey:     schema.CanonicalKey(args),
		ArgsJSON:     schema.CanonicalJSON(args),
		ExpectedJSON: string(expectedJSON),
		Source:       storage.TruthSourceManual,
	}
	if err := s.store.UpsertTruth(entry); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "upsert ground truth")
	}

	s.logger.Info(logging.CategoryTruth, "put", "ground truth recorded", map[string]any{
		"goal": goalName,
		"key":  entry.InputKey,
	})
	return entry, nil
}

// GetAll returns the full corpus for a goal keyed by canonical input key.
func (s *Service) GetAll(goalName string) (map[string]*storage.TruthEntry, error) {
	if _, err := s.loadGoal(goalName); err != nil {
		return nil, err
	}
	entries, err := s.store.GetAllTruth(goalName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load ground truth")
	}
	return entries, nil
}

// Count returns the corpus size for a goal.
func (s *Service) Count(goalName string) (int, error) {
	n, err := s.store.CountTruth(goalName)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageRead, "count ground truth")
	}
	return n, nil
}

// PromotionReport summarizes one promotion sweep.
type PromotionReport struct {
	Reviewed int `json:"reviewed"`
	Promoted int `json:"promoted"`
	Rejected int `json:"rejected"`
	Skipped  int `json:"skipped"`
}

// PromoteFromLog sweeps successful logged outputs for a goal through the
// validator and upserts every approved pair as trusted ground truth. Records
// whose input key already has an entry are skipped so a reviewer never
// re-sees settled inputs. limit bounds how many candidate records are pulled
// from the log; zero means all.
func (s *Service) PromoteFromLog(goalName string, validator Validator, limit int) (*PromotionReport, error) {
	goal, err := s.loadGoal(goalName)
	if err != nil {
		return nil, err
	}
	if validator == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "validator is required")
	}

	existing, err := s.store.GetAllTruth(goalName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load ground truth")
	}

	records, err := s.store.QueryInvocations(goalName, storage.InvocationFilter{
		SuccessOnly: true,
		FinalOnly:   true,
		Limit:       limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "query invocation log")
	}

	report := &PromotionReport{}
	seen := make(map[string]bool, len(existing))
	for key := range existing {
		seen[key] = true
	}

	for _, rec := range records {
		if seen[rec.InputKey] {
			report.Skipped++
			continue
		}
		seen[rec.InputKey] = true

		var args map[string]any
		if err := json.Unmarshal([]byte(rec.ArgsJSON), &args); err != nil {
			report.Skipped++
			continue
		}
		var output any
		if err := json.Unmarshal([]byte(rec.OutputJSON), &output); err != nil {
			report.Skipped++
			continue
		}

		report.Reviewed++
		verdict, err := validator.Validate(goal, args, output)
		if err != nil {
			return report, errors.Wrap(err, errors.ErrCodeInternal, "validator failed")
		}
		if verdict != VerdictApprove {
			report.Rejected++
			continue
		}

		entry := &storage.TruthEntry{
			GoalName:     goalName,
			InputKey:     rec.InputKey,
			ArgsJSON:     rec.ArgsJSON,
			ExpectedJSON: rec.OutputJSON,
			Source:       storage.TruthSourcePromoted,
		}
		if err := s.store.UpsertTruth(entry); err != nil {
			return report, errors.Wrap(err, errors.ErrCodeStorageWrite, "promote logged output")
		}
		report.Promoted++
	}

	s.logger.Info(logging.CategoryTruth, "promote", "promotion sweep finished", map[string]any{
		"goal":     goalName,
		"reviewed": report.Reviewed,
		"promoted": report.Promoted,
	})
	return report, nil
}

func (s *Service) loadGoal(goalName string) (*schema.Goal, error) {
	goal, err := s.store.GetGoal(goalName)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.New(errors.ErrCodeGoalNotFound, "goal is not declared").
				WithContext("goal", goalName)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load goal")
	}
	return goal, nil
}
