// Package exec provides an interface for running external commands,
// used by the merge pipeline and mockable in tests.
package exec

import (
	"context"
	"time"
)

// CommandRunner runs external commands.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a command string through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// RunShellTimeout executes a command string through "sh -c" with a
	// deadline. A non-positive timeout means no deadline. ErrTimeout is
	// returned when the deadline kills the command.
	RunShellTimeout(ctx context.Context, workDir string, command string, timeout time.Duration) (output []byte, err error)
}
