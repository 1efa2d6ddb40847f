//go:build windows

package sandbox

import (
	"context"
	"os/exec"
)

// newCommand builds the candidate command. Windows has no process groups in
// the Unix sense; CommandContext's default kill is used.
func newCommand(ctx context.Context, argv []string) *exec.Cmd {
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}

// exitCode extracts the process exit code from a Run error.
func exitCode(err error) (int, bool) {
	if exitError, ok := err.(*exec.ExitError); ok {
		return exitError.ExitCode(), true
	}
	return 0, false
}
