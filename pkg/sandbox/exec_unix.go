//go:build !windows

package sandbox

import (
	"context"
	"os/exec"
	"syscall"
)

// newCommand builds the candidate command with its own process group so a
// timeout kills the interpreter and anything it spawned.
func newCommand(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd
}

// exitCode extracts the process exit code from a Run error.
func exitCode(err error) (int, bool) {
	if exitError, ok := err.(*exec.ExitError); ok {
		return exitError.ExitCode(), true
	}
	return 0, false
}
