package storage

import (
	"time"
)

// TruthSource distinguishes how a ground-truth entry was supplied.
const (
	TruthSourceManual   = "manual"
	TruthSourcePromoted = "promoted" // a validated logged output
)

// TruthEntry is one (input -> expected output) pair for a goal.
type TruthEntry struct {
	GoalName     string    `json:"goalName"`
	InputKey     string    `json:"inputKey"`
	ArgsJSON     string    `json:"argsJson"`
	ExpectedJSON string    `json:"expectedJson"`
	Source       string    `json:"source"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UpsertTruth inserts or overwrites the expected output for a (goal, input
// key) pair. Re-submitting the same pair is idempotent; a different expected
// output replaces the previous one.
func (s *Store) UpsertTruth(entry *TruthEntry) error {
	if entry.Source == "" {
		entry.Source = TruthSourceManual
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO ground_truth (goal_name, input_key, args_json, expected_json, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(goal_name, input_key) DO UPDATE SET
			args_json = excluded.args_json,
			expected_json = excluded.expected_json,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, entry.GoalName, entry.InputKey, entry.ArgsJSON, entry.ExpectedJSON,
		entry.Source, entry.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}

	s.notify(newEvent(EventTruthUpserted, entry.GoalName, entry.InputKey, nil))
	return nil
}

// GetAllTruth returns every ground-truth entry for a goal, keyed by canonical
// input key.
func (s *Store) GetAllTruth(goalName string) (map[string]*TruthEntry, error) {
	rows, err := s.db.Query(`
		SELECT goal_name, input_key, args_json, expected_json, source, updated_at
		FROM ground_truth WHERE goal_name = ?
	`, goalName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]*TruthEntry)
	for rows.Next() {
		var (
			entry     TruthEntry
			updatedAt string
		)
		if err := rows.Scan(&entry.GoalName, &entry.InputKey, &entry.ArgsJSON,
			&entry.ExpectedJSON, &entry.Source, &updatedAt); err != nil {
			return nil, err
		}
		entry.UpdatedAt = parseTimestamp(updatedAt)
		entries[entry.InputKey] = &entry
	}
	return entries, rows.Err()
}

// CountTruth returns the number of ground-truth entries for a goal.
func (s *Store) CountTruth(goalName string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ground_truth WHERE goal_name = ?`, goalName).Scan(&count)
	return count, err
}
