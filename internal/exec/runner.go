package exec

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrTimeout reports a command killed by its deadline.
var ErrTimeout = errors.New("command timed out")

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShell executes a command string through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// RunShellTimeout executes a command string through "sh -c" with a
// deadline. A non-positive timeout means no deadline.
func (r *ExecRunner) RunShellTimeout(ctx context.Context, workDir string, command string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := r.RunShell(ctx, workDir, command)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return out, ErrTimeout
	}
	return out, err
}

var _ CommandRunner = (*ExecRunner)(nil)
