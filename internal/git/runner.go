package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// Dir returns the repository path.
func (r *ExecRunner) Dir() string {
	return r.repoPath
}

// At returns a runner rooted at dir, typically a linked worktree.
func (r *ExecRunner) At(dir string) Runner {
	return &ExecRunner{repoPath: dir}
}

func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Run executes an arbitrary git command and returns trimmed output.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// CurrentBranch returns the name of the checked-out branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// CreateBranchAt creates a branch pointing at the given ref.
func (r *ExecRunner) CreateBranchAt(name, ref string) error {
	return r.runSilent("branch", name, ref)
}

// DeleteBranch force-deletes a local branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// RevParse resolves a ref to its full SHA.
func (r *ExecRunner) RevParse(ref string) (string, error) {
	return r.run("rev-parse", ref)
}

// HeadSHA resolves HEAD to its full SHA.
func (r *ExecRunner) HeadSHA() (string, error) {
	return r.RevParse("HEAD")
}

// Status returns git status --porcelain output.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// IsDirty reports whether tracked files have uncommitted changes.
// Untracked entries ("??") are ignored.
func (r *ExecRunner) IsDirty() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(status, "\n") {
		if line == "" || strings.HasPrefix(line, "??") {
			continue
		}
		return true, nil
	}
	return false, nil
}

// Rebase replays the current branch onto base.
func (r *ExecRunner) Rebase(base string) error {
	return r.runSilent("rebase", base)
}

// RebaseAbort cancels an in-progress rebase.
func (r *ExecRunner) RebaseAbort() error {
	return r.runSilent("rebase", "--abort")
}

// MergeSquash stages a squashed merge of branch without committing.
func (r *ExecRunner) MergeSquash(branch string) error {
	return r.runSilent("merge", "--squash", branch)
}

// MergeAbort cancels an in-progress merge.
func (r *ExecRunner) MergeAbort() error {
	return r.runSilent("merge", "--abort")
}

// Commit commits the staged changes.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}

// ResetHardTo moves the current branch to ref and resets tracked files.
// git reset --hard does not touch untracked files, which is exactly the
// preservation the worktree reset step needs.
func (r *ExecRunner) ResetHardTo(ref string) error {
	return r.runSilent("reset", "--hard", ref)
}

// FastForward advances refs/heads/branch from oldSHA to newSHA. The old
// value makes update-ref a compare-and-swap: a concurrent move of the
// branch makes the update fail instead of clobbering it.
func (r *ExecRunner) FastForward(branch, newSHA, oldSHA string) error {
	return r.runSilent("update-ref", "refs/heads/"+branch, newSHA, oldSHA)
}

// WorktreeAdd checks out an existing branch into a new worktree.
func (r *ExecRunner) WorktreeAdd(path, branch string) error {
	return r.runSilent("worktree", "add", path, branch)
}

// WorktreeAddDetached checks out a ref into a new detached worktree.
func (r *ExecRunner) WorktreeAddDetached(path, ref string) error {
	return r.runSilent("worktree", "add", "--detach", path, ref)
}

// WorktreeAddNewBranch creates a branch and a worktree for it.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch string) error {
	return r.runSilent("worktree", "add", path, "-b", branch)
}

// WorktreeRemove force-removes the worktree at path.
func (r *ExecRunner) WorktreeRemove(path string) error {
	return r.runSilent("worktree", "remove", "--force", path)
}

// WorktreePrune drops stale worktree records.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune")
}

var _ Runner = (*ExecRunner)(nil)
