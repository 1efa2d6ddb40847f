package storage

import (
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

// Proposal lifecycle statuses. Proposals are immutable after their synthesis
// run concludes and are never deleted.
const (
	ProposalStatusAccepted = "accepted"
	ProposalStatusRejected = "rejected"
	ProposalStatusAgentic  = "agentic"
)

// Proposal kinds.
const (
	ProposalKindProgram = "program"
	ProposalKindAgentic = "agentic"
)

// Iteration outcomes for the test-fix loop.
const (
	IterationPass       = "pass"
	IterationStructural = "structural_error"
	IterationLogical    = "logical_mismatch"
)

// Proposal is one candidate implementation produced during a synthesis run.
type Proposal struct {
	ID          string    `json:"id"`
	GoalName    string    `json:"goalName"`
	RunID       string    `json:"runId"`
	Rationale   string    `json:"rationale"`
	Confidence  float64   `json:"confidence"`
	Kind        string    `json:"kind"`
	Artifact    string    `json:"artifact"`
	Status      string    `json:"status"`
	Accuracy    float64   `json:"accuracy"`
	LatencyMS   float64   `json:"latencyMs"`
	CostPerCall float64   `json:"costPerCall"`
	CreatedAt   time.Time `json:"createdAt"`

	// Iterations is populated only by GetProposal / loadIterations.
	Iterations []*ProposalIteration `json:"iterations,omitempty"`
}

// ProposalIteration is one attempt record inside a proposal's test-fix loop.
type ProposalIteration struct {
	ProposalID  string    `json:"proposalId"`
	Iteration   int       `json:"iteration"`
	Artifact    string    `json:"artifact"`
	Accuracy    float64   `json:"accuracy"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Observation string    `json:"observation,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SaveProposal persists a concluded proposal and its full iteration history.
func (s *Store) SaveProposal(p *Proposal) error {
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO proposals
			(id, goal_name, run_id, rationale, confidence, kind, artifact,
			 status, accuracy, latency_ms, cost_per_call, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.GoalName, p.RunID, p.Rationale, p.Confidence, p.Kind, p.Artifact,
		p.Status, p.Accuracy, p.LatencyMS, p.CostPerCall,
		p.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}

	for _, it := range p.Iterations {
		it.ProposalID = p.ID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now().UTC()
		}
		_, err = tx.Exec(`
			INSERT INTO proposal_iterations
				(proposal_id, iteration, artifact, accuracy, outcome, error, observation, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ProposalID, it.Iteration, it.Artifact, it.Accuracy, it.Outcome,
			nullable(it.Error), nullable(it.Observation),
			it.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.notify(newEvent(EventProposalCreated, p.GoalName, p.ID, nil))
	return nil
}

// GetProposal fetches one proposal with its iteration history.
func (s *Store) GetProposal(id string) (*Proposal, error) {
	row := s.db.QueryRow(`
		SELECT id, goal_name, run_id, rationale, confidence, kind, artifact,
		       status, accuracy, latency_ms, cost_per_call, created_at
		FROM proposals WHERE id = ?
	`, id)

	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadIterations(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProposals returns all proposals for a goal, oldest first, without
// iteration history.
func (s *Store) ListProposals(goalName string) ([]*Proposal, error) {
	rows, err := s.db.Query(`
		SELECT id, goal_name, run_id, rationale, confidence, kind, artifact,
		       status, accuracy, latency_ms, cost_per_call, created_at
		FROM proposals WHERE goal_name = ? ORDER BY created_at, id
	`, goalName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var (
		p         Proposal
		createdAt string
	)
	err := row.Scan(&p.ID, &p.GoalName, &p.RunID, &p.Rationale, &p.Confidence,
		&p.Kind, &p.Artifact, &p.Status, &p.Accuracy, &p.LatencyMS,
		&p.CostPerCall, &createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTimestamp(createdAt)
	return &p, nil
}

func (s *Store) loadIterations(p *Proposal) error {
	rows, err := s.db.Query(`
		SELECT proposal_id, iteration, artifact, accuracy, outcome, error, observation, created_at
		FROM proposal_iterations WHERE proposal_id = ? ORDER BY iteration
	`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it          ProposalIteration
			errText     sql.NullString
			observation sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&it.ProposalID, &it.Iteration, &it.Artifact,
			&it.Accuracy, &it.Outcome, &errText, &observation, &createdAt); err != nil {
			return err
		}
		it.Error = errText.String
		it.Observation = observation.String
		it.CreatedAt = parseTimestamp(createdAt)
		p.Iterations = append(p.Iterations, &it)
	}
	return rows.Err()
}

// SynthesisMark records the log high-water mark for a goal's last synthesis
// run. Used by the automatic trigger to decide when enough new data exists.
type SynthesisMark struct {
	GoalName    string
	LastRunID   string
	RecordCount int
	RanAt       time.Time
}

// SetSynthesisMark upserts the mark after a run completes.
func (s *Store) SetSynthesisMark(mark *SynthesisMark) error {
	if mark.RanAt.IsZero() {
		mark.RanAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO synthesis_marks (goal_name, last_run_id, record_count, ran_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(goal_name) DO UPDATE SET
			last_run_id = excluded.last_run_id,
			record_count = excluded.record_count,
			ran_at = excluded.ran_at
	`, mark.GoalName, mark.LastRunID, mark.RecordCount,
		mark.RanAt.UTC().Format("2006-01-02 15:04:05"))
	return err
}

// GetSynthesisMark returns the last mark for a goal, or ErrNotFound if the
// goal has never been synthesized.
func (s *Store) GetSynthesisMark(goalName string) (*SynthesisMark, error) {
	var (
		mark  SynthesisMark
		ranAt string
	)
	err := s.db.QueryRow(`
		SELECT goal_name, last_run_id, record_count, ran_at
		FROM synthesis_marks WHERE goal_name = ?
	`, goalName).Scan(&mark.GoalName, &mark.LastRunID, &mark.RecordCount, &ranAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	mark.RanAt = parseTimestamp(ranAt)
	return &mark, nil
}
