// Package git wraps the git CLI for the operations the merge protocol
// and worktree management need.
package git

// BranchOps covers branch inspection and manipulation.
type BranchOps interface {
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch() (string, error)
	// BranchExists reports whether a local branch exists.
	BranchExists(name string) (bool, error)
	// CreateBranchAt creates a branch pointing at the given ref.
	CreateBranchAt(name, ref string) error
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(name string) error
	// RevParse resolves a ref to its full SHA.
	RevParse(ref string) (string, error)
	// HeadSHA resolves HEAD to its full SHA.
	HeadSHA() (string, error)
}

// StatusOps covers working tree inspection.
type StatusOps interface {
	// Status returns git status --porcelain output.
	Status() (string, error)
	// IsDirty reports whether the tree has uncommitted tracked changes.
	// Untracked files do not count as dirty.
	IsDirty() (bool, error)
}

// MergeOps covers the history-rewriting half of the merge protocol.
type MergeOps interface {
	// Rebase replays the current branch onto base.
	Rebase(base string) error
	// RebaseAbort cancels an in-progress rebase.
	RebaseAbort() error
	// MergeSquash stages a squashed merge of branch without committing.
	MergeSquash(branch string) error
	// MergeAbort cancels an in-progress merge.
	MergeAbort() error
	// Commit commits the staged changes with the given message.
	Commit(message string) error
	// ResetHardTo moves the current branch to ref and resets tracked
	// files, leaving untracked files alone.
	ResetHardTo(ref string) error
	// FastForward advances a branch from oldSHA to newSHA with
	// compare-and-swap semantics: it fails if the branch no longer
	// points at oldSHA.
	FastForward(branch, newSHA, oldSHA string) error
}

// WorktreeOps covers linked worktree management.
type WorktreeOps interface {
	// WorktreeAdd checks out an existing branch into a new worktree.
	WorktreeAdd(path, branch string) error
	// WorktreeAddDetached checks out a ref into a new detached worktree.
	WorktreeAddDetached(path, ref string) error
	// WorktreeAddNewBranch creates a branch and a worktree for it.
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove force-removes the worktree at path.
	WorktreeRemove(path string) error
	// WorktreePrune drops stale worktree records.
	WorktreePrune() error
}

// Runner is the complete git surface. Callers should accept the focused
// interface they need.
type Runner interface {
	BranchOps
	StatusOps
	MergeOps
	WorktreeOps
	// Run executes an arbitrary git command, returning trimmed output.
	Run(args ...string) (string, error)
	// Dir returns the repository path this runner operates on.
	Dir() string
	// At returns a runner rooted at a different directory, for running
	// commands inside a linked worktree of the same repository.
	At(dir string) Runner
}
