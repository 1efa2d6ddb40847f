package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/schema"
)

// Goal schemas are serialized as JSON columns; they are fixed for the
// lifetime of the goal, so there is no update path.

// CreateGoal persists a newly declared goal. It fails if a goal with the
// same name already exists.
func (s *Store) CreateGoal(goal *schema.Goal) error {
	inputs, err := json.Marshal(goal.Inputs)
	if err != nil {
		return fmt.Errorf("marshal input schema: %w", err)
	}
	output, err := json.Marshal(goal.Output)
	if err != nil {
		return fmt.Errorf("marshal output schema: %w", err)
	}

	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO goals (name, description, input_schema, output_schema, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, goal.Name, goal.Description, string(inputs), string(output),
		goal.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errors.New(errors.ErrCodeGoalExists, "goal is already declared").
				WithContext("goal", goal.Name)
		}
		return err
	}

	s.notify(newEvent(EventGoalCreated, goal.Name, goal.Name, nil))
	return nil
}

// GetGoal fetches a goal declaration by name. Returns ErrNotFound when the
// goal does not exist.
func (s *Store) GetGoal(name string) (*schema.Goal, error) {
	var (
		goal      schema.Goal
		inputs    string
		output    string
		createdAt string
	)
	err := s.db.QueryRow(`
		SELECT name, description, input_schema, output_schema, created_at
		FROM goals WHERE name = ?
	`, name).Scan(&goal.Name, &goal.Description, &inputs, &output, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(inputs), &goal.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}
	if err := json.Unmarshal([]byte(output), &goal.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output schema: %w", err)
	}
	goal.CreatedAt = parseTimestamp(createdAt)

	return &goal, nil
}

// ListGoals returns every declared goal, oldest first.
func (s *Store) ListGoals() ([]*schema.Goal, error) {
	rows, err := s.db.Query(`
		SELECT name, description, input_schema, output_schema, created_at
		FROM goals ORDER BY created_at, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []*schema.Goal
	for rows.Next() {
		var (
			goal      schema.Goal
			inputs    string
			output    string
			createdAt string
		)
		if err := rows.Scan(&goal.Name, &goal.Description, &inputs, &output, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(inputs), &goal.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal input schema for %s: %w", goal.Name, err)
		}
		if err := json.Unmarshal([]byte(output), &goal.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output schema for %s: %w", goal.Name, err)
		}
		goal.CreatedAt = parseTimestamp(createdAt)
		goals = append(goals, &goal)
	}
	return goals, rows.Err()
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
