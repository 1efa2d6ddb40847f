// Package sandbox runs synthesized candidate programs in a bounded child
// process. A candidate reads its arguments as canonical JSON on stdin and
// writes its typed output as JSON on stdout. The sandbox enforces a wall
// clock timeout, caps captured output, and kills the whole process group on
// cancellation.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teleologic/telos/pkg/errors"
)

// Config configures the sandbox behavior
type Config struct {
	// Command is the interpreter argv; the candidate source file path is
	// appended as the last argument.
	Command       []string
	Timeout       time.Duration
	MaxOutputSize int64 // Max captured bytes per stream (0 = unlimited)
	WorkDir       string
	Env           []string // nil inherits a minimal environment
}

// DefaultConfig returns a safe default configuration
func DefaultConfig() Config {
	return Config{
		Command:       []string{"python3"},
		Timeout:       5 * time.Second,
		MaxOutputSize: 1 << 20,
	}
}

// Sandbox provides bounded candidate execution
type Sandbox struct {
	config Config
}

// New creates a new sandbox with the given configuration
func New(config Config) (*Sandbox, error) {
	if len(config.Command) == 0 {
		return nil, errors.New(errors.ErrCodeSandboxDenied, "sandbox command cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Sandbox{config: config}, nil
}

// Result contains the result of one sandboxed candidate execution
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Killed   bool
}

// Runner is the behavior the synthesis loop and the program solver need.
// Tests substitute an in-process implementation.
type Runner interface {
	Run(ctx context.Context, source string, inputJSON string) (*Result, error)
}

// Run writes the candidate source to a scratch file and executes it with the
// configured interpreter, feeding inputJSON on stdin. A non-zero exit is not
// an error here; callers inspect ExitCode to classify structural failures.
func (s *Sandbox) Run(ctx context.Context, source string, inputJSON string) (*Result, error) {
	dir := s.config.WorkDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "telos-candidate-*")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSandboxFailed, "create scratch dir")
		}
		defer os.RemoveAll(dir)
	}

	sourcePath := filepath.Join(dir, "candidate"+sourceExtension(s.config.Command[0]))
	if err := os.WriteFile(sourcePath, []byte(source), 0o600); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSandboxFailed, "write candidate source")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	argv := append(append([]string(nil), s.config.Command...), sourcePath)
	cmd := newCommand(ctx, argv)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(inputJSON)
	if s.config.Env != nil {
		cmd.Env = s.config.Env
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = 124 // Standard timeout exit code
		return result, errors.New(errors.ErrCodeSandboxTimeout,
			fmt.Sprintf("candidate timed out after %v", s.config.Timeout))
	}

	if err != nil {
		if code, ok := exitCode(err); ok {
			result.ExitCode = code
		} else {
			return result, errors.Wrap(err, errors.ErrCodeSandboxFailed, "start candidate")
		}
	}

	s.truncate(result)
	return result, nil
}

func (s *Sandbox) truncate(result *Result) {
	if s.config.MaxOutputSize <= 0 {
		return
	}
	if int64(len(result.Stdout)) > s.config.MaxOutputSize {
		result.Stdout = result.Stdout[:s.config.MaxOutputSize] + "\n... (output truncated)"
	}
	if int64(len(result.Stderr)) > s.config.MaxOutputSize {
		result.Stderr = result.Stderr[:s.config.MaxOutputSize] + "\n... (output truncated)"
	}
}

// sourceExtension picks a file extension matching the interpreter so error
// messages from the interpreter stay readable.
func sourceExtension(interpreter string) string {
	base := filepath.Base(interpreter)
	switch {
	case strings.HasPrefix(base, "python"):
		return ".py"
	case base == "node", base == "deno", base == "bun":
		return ".js"
	case strings.HasPrefix(base, "ruby"):
		return ".rb"
	default:
		return ""
	}
}
