package merge

import (
	"math/rand"
	"time"
)

// FailureReason classifies why a merge attempt did not land.
type FailureReason string

const (
	// FailureWorktree covers lock contention and worktree setup errors.
	FailureWorktree FailureReason = "WORKTREE_ERROR"
	// FailureDirtyMain means main moved or was dirty during the attempt.
	FailureDirtyMain FailureReason = "DIRTY_MAIN"
	// FailureRebaseConflict means the task branch no longer replays
	// cleanly onto main. Only the agent can fix this.
	FailureRebaseConflict FailureReason = "REBASE_CONFLICT"
	// FailurePreMergeFailed means a pipeline step exited non-zero.
	FailurePreMergeFailed FailureReason = "PRE_MERGE_FAILED"
	// FailureSquashConflict means the squash onto main conflicted.
	FailureSquashConflict FailureReason = "SQUASH_CONFLICT"
)

// Retryable reports whether the coordinator should retry this failure.
// Conflicts and failing pipelines need new commits from the agent, so
// retrying is pointless; only environmental failures retry.
func (f FailureReason) Retryable() bool {
	switch f {
	case FailureRebaseConflict, FailureSquashConflict, FailurePreMergeFailed:
		return false
	default:
		return true
	}
}

const (
	backoffBase   = 5 * time.Second
	backoffFactor = 3
	jitterRatio   = 0.3
)

// Backoff returns the delay before retry attempt n (1-based): 5s tripling
// per attempt, with ±30% jitter, never below the base. A dirty-main race
// retries immediately since main settles on its own.
func (f FailureReason) Backoff(attempt int) time.Duration {
	if f == FailureDirtyMain {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= backoffFactor
	}

	jitter := 1 + jitterRatio*(2*rand.Float64()-1)
	delay = time.Duration(float64(delay) * jitter)
	if delay < backoffBase {
		delay = backoffBase
	}
	return delay
}
