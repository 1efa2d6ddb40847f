package storage

import (
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

// InvocationRecord is one logged solver attempt. Records are append-only:
// there is no update or delete path. A call that cascades through several
// solvers produces one row per attempt; the terminal attempt has Final set.
type InvocationRecord struct {
	ID          string    `json:"id"`
	GoalName    string    `json:"goalName"`
	InputKey    string    `json:"inputKey"`
	ArgsJSON    string    `json:"argsJson"`
	OutputJSON  string    `json:"outputJson,omitempty"`
	SolverID    string    `json:"solverId"`
	AttemptRank int       `json:"attemptRank"`
	LatencyMS   float64   `json:"latencyMs"`
	Cost        *float64  `json:"cost,omitempty"` // nil for non-AI solvers
	Success     bool      `json:"success"`
	Final       bool      `json:"final"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// InvocationFilter narrows Query results. Zero values mean "no constraint".
type InvocationFilter struct {
	Since       time.Time
	SuccessOnly bool
	FinalOnly   bool
	SolverID    string
	Limit       int
}

// AppendInvocation writes one invocation record. The ID is assigned here if
// the caller left it empty.
func (s *Store) AppendInvocation(rec *InvocationRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var cost any
	if rec.Cost != nil {
		cost = *rec.Cost
	}

	_, err := s.db.Exec(`
		INSERT INTO invocation_records
			(id, goal_name, input_key, args_json, output_json, solver_id,
			 attempt_rank, latency_ms, cost, success, final, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.GoalName, rec.InputKey, rec.ArgsJSON, nullable(rec.OutputJSON),
		rec.SolverID, rec.AttemptRank, rec.LatencyMS, cost,
		boolToInt(rec.Success), boolToInt(rec.Final), nullable(rec.Error),
		rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}

	s.notify(newEvent(EventInvocationLogged, rec.GoalName, rec.ID, rec))
	return nil
}

// QueryInvocations returns records for a goal matching the filter, oldest
// first.
func (s *Store) QueryInvocations(goalName string, filter InvocationFilter) ([]*InvocationRecord, error) {
	query := `
		SELECT id, goal_name, input_key, args_json, output_json, solver_id,
		       attempt_rank, latency_ms, cost, success, final, error, created_at
		FROM invocation_records
		WHERE goal_name = ?`
	args := []any{goalName}

	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format("2006-01-02 15:04:05"))
	}
	if filter.SuccessOnly {
		query += " AND success = 1"
	}
	if filter.FinalOnly {
		query += " AND final = 1"
	}
	if filter.SolverID != "" {
		query += " AND solver_id = ?"
		args = append(args, filter.SolverID)
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*InvocationRecord
	for rows.Next() {
		rec, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountInvocations returns the number of final records for a goal. Used by
// the automatic synthesis trigger.
func (s *Store) CountInvocations(goalName string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM invocation_records WHERE goal_name = ? AND final = 1
	`, goalName).Scan(&count)
	return count, err
}

// SumCosts totals AI spend across all goals since the given time. Records
// with no cost (synthesized solvers) contribute nothing.
func (s *Store) SumCosts(since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(cost), 0) FROM invocation_records
		WHERE cost IS NOT NULL AND created_at >= ?
	`, since.UTC().Format("2006-01-02 15:04:05")).Scan(&total)
	return total, err
}

func scanInvocation(rows *sql.Rows) (*InvocationRecord, error) {
	var (
		rec       InvocationRecord
		output    sql.NullString
		cost      sql.NullFloat64
		errText   sql.NullString
		success   int
		final     int
		createdAt string
	)
	if err := rows.Scan(&rec.ID, &rec.GoalName, &rec.InputKey, &rec.ArgsJSON,
		&output, &rec.SolverID, &rec.AttemptRank, &rec.LatencyMS, &cost,
		&success, &final, &errText, &createdAt); err != nil {
		return nil, err
	}
	rec.OutputJSON = output.String
	if cost.Valid {
		c := cost.Float64
		rec.Cost = &c
	}
	rec.Success = success == 1
	rec.Final = final == 1
	rec.Error = errText.String
	rec.CreatedAt = parseTimestamp(createdAt)
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
