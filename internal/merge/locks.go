// Package merge serializes task landings onto main: per-worktree RW
// locks, a retry/backoff policy keyed by failure class, the pre-merge
// pipeline, and the coordinator that drives the landing protocol.
package merge

import "sync"

// WorktreeLocks hands out one RW lock per agent worktree. Agents hold
// the read side while running turns; the coordinator takes the write
// side to rebase and reset the worktree underneath them.
type WorktreeLocks struct {
	mu    sync.Mutex
	locks map[worktreeKey]*sync.RWMutex
}

type worktreeKey struct {
	team  string
	agent string
}

// NewWorktreeLocks creates an empty lock table.
func NewWorktreeLocks() *WorktreeLocks {
	return &WorktreeLocks{locks: make(map[worktreeKey]*sync.RWMutex)}
}

func (w *WorktreeLocks) lock(team, agent string) *sync.RWMutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := worktreeKey{team: team, agent: agent}
	l, ok := w.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		w.locks[key] = l
	}
	return l
}

// AcquireRead blocks until the worktree is free of writers. Agents call
// this before each turn; it blocks while a merge is mutating the tree.
func (w *WorktreeLocks) AcquireRead(team, agent string) {
	w.lock(team, agent).RLock()
}

// ReleaseRead releases a read hold.
func (w *WorktreeLocks) ReleaseRead(team, agent string) {
	w.lock(team, agent).RUnlock()
}

// TryAcquireWrite attempts the exclusive side without blocking. The
// coordinator treats a refusal as a retryable worktree failure rather
// than stalling the merge loop behind a running turn.
func (w *WorktreeLocks) TryAcquireWrite(team, agent string) bool {
	return w.lock(team, agent).TryLock()
}

// ReleaseWrite releases the exclusive hold.
func (w *WorktreeLocks) ReleaseWrite(team, agent string) {
	w.lock(team, agent).Unlock()
}
