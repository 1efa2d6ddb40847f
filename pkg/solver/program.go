package solver

import (
	"context"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/sandbox"
	"github.com/teleologic/telos/pkg/schema"
)

// ProgramSolver executes an accepted proposal's source artifact in the
// sandbox. Arguments go in as canonical JSON on stdin; the candidate's stdout
// must be a JSON value conforming to the output schema.
type ProgramSolver struct {
	id     string
	source string
	runner sandbox.Runner
}

// NewProgram builds a program solver from a proposal's artifact.
func NewProgram(proposalID, source string, runner sandbox.Runner) *ProgramSolver {
	return &ProgramSolver{
		id:     proposalID,
		source: source,
		runner: runner,
	}
}

// ID returns the solver identifier (the owning proposal's ID).
func (s *ProgramSolver) ID() string { return s.id }

// Kind returns the solver variant.
func (s *ProgramSolver) Kind() Kind { return KindProgram }

// Solve runs the program against the arguments. Program solvers have no
// monetary cost, so Outcome.Cost stays nil.
func (s *ProgramSolver) Solve(ctx context.Context, goal *schema.Goal, args map[string]any) (*Outcome, error) {
	result, err := s.runner.Run(ctx, s.source, schema.CanonicalJSON(args))
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, errors.New(errors.ErrCodeSolverExecution, "program exited non-zero").
			WithContext("solver", s.id).
			WithContext("exit_code", result.ExitCode).
			WithContext("stderr", result.Stderr)
	}

	output, err := ParseOutput(goal, result.Stdout)
	if err != nil {
		return nil, err
	}
	return &Outcome{Output: output}, nil
}
