package storage

import (
	"time"
)

// RegistryEntry maps a goal to one ranked accepted proposal. Rank 0 is the
// current best. The AI fallback is implicit: it never has a row and is always
// conceptually last.
type RegistryEntry struct {
	GoalName   string    `json:"goalName"`
	Rank       int       `json:"rank"`
	ProposalID string    `json:"proposalId"`
	PromotedAt time.Time `json:"promotedAt"`
}

// GetRegistryChain returns the ranked non-fallback chain for a goal, best
// first. An empty slice means only the AI fallback is available.
func (s *Store) GetRegistryChain(goalName string) ([]*RegistryEntry, error) {
	rows, err := s.db.Query(`
		SELECT goal_name, rank, proposal_id, promoted_at
		FROM registry_entries WHERE goal_name = ? ORDER BY rank
	`, goalName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*RegistryEntry
	for rows.Next() {
		var (
			entry      RegistryEntry
			promotedAt string
		)
		if err := rows.Scan(&entry.GoalName, &entry.Rank, &entry.ProposalID, &promotedAt); err != nil {
			return nil, err
		}
		entry.PromotedAt = parseTimestamp(promotedAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// ReplaceRegistryChain atomically swaps the entire non-fallback chain for a
// goal. In-flight readers either see the old chain or the new one, never a
// mix, because the swap happens in a single transaction.
func (s *Store) ReplaceRegistryChain(goalName string, proposalIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM registry_entries WHERE goal_name = ?`, goalName); err != nil {
		return err
	}

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	for rank, id := range proposalIDs {
		if _, err := tx.Exec(`
			INSERT INTO registry_entries (goal_name, rank, proposal_id, promoted_at)
			VALUES (?, ?, ?, ?)
		`, goalName, rank, id, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.notify(newEvent(EventRegistryPromoted, goalName, nil, proposalIDs))
	return nil
}
