package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/denyherianto/delegate/internal/exec"
	"github.com/denyherianto/delegate/internal/git"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/internal/workflow"
	"github.com/denyherianto/delegate/pkg/models"
)

// fakeRepo is the shared state behind every fakeGit view of one repository.
type fakeRepo struct {
	shas      map[string]string // ref -> sha
	rebasedTo string            // HeadSHA after a successful rebase
	dirty     bool
	rebaseErr error
	ffErrs    map[string]error // branch -> forced FastForward error
	calls     []string
}

// fakeGit implements git.Runner over fakeRepo state.
type fakeGit struct {
	repo *fakeRepo
	dir  string
}

func newFakeGit(repo *fakeRepo) func(path string) git.Runner {
	return func(path string) git.Runner { return &fakeGit{repo: repo, dir: path} }
}

func (g *fakeGit) log(format string, args ...any) {
	g.repo.calls = append(g.repo.calls, fmt.Sprintf(format, args...))
}

func (g *fakeGit) CurrentBranch() (string, error)         { return "main", nil }
func (g *fakeGit) BranchExists(name string) (bool, error) { _, ok := g.repo.shas[name]; return ok, nil }
func (g *fakeGit) CreateBranchAt(name, ref string) error {
	g.repo.shas[name] = g.repo.shas[ref]
	return nil
}
func (g *fakeGit) DeleteBranch(name string) error { delete(g.repo.shas, name); return nil }

func (g *fakeGit) RevParse(ref string) (string, error) {
	sha, ok := g.repo.shas[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %q", ref)
	}
	return sha, nil
}

func (g *fakeGit) HeadSHA() (string, error) { return g.repo.rebasedTo, nil }

func (g *fakeGit) Status() (string, error) { return "", nil }
func (g *fakeGit) IsDirty() (bool, error)  { return g.repo.dirty, nil }

func (g *fakeGit) Rebase(base string) error {
	g.log("rebase %s in %s", base, g.dir)
	return g.repo.rebaseErr
}
func (g *fakeGit) RebaseAbort() error              { g.log("rebase-abort"); return nil }
func (g *fakeGit) MergeSquash(branch string) error { return nil }
func (g *fakeGit) MergeAbort() error               { return nil }
func (g *fakeGit) Commit(message string) error     { return nil }

func (g *fakeGit) ResetHardTo(ref string) error {
	g.log("reset %s in %s", ref, g.dir)
	return nil
}

func (g *fakeGit) FastForward(branch, newSHA, oldSHA string) error {
	if err := g.repo.ffErrs[branch]; err != nil {
		return err
	}
	if g.repo.shas[branch] != oldSHA {
		return fmt.Errorf("ref %s is at %s, not %s", branch, g.repo.shas[branch], oldSHA)
	}
	g.repo.shas[branch] = newSHA
	g.log("ff %s -> %s", branch, newSHA)
	return nil
}

func (g *fakeGit) WorktreeAdd(path, branch string) error { return nil }

func (g *fakeGit) WorktreeAddDetached(path, ref string) error {
	g.log("scratch %s", path)
	return os.MkdirAll(path, 0o755)
}

func (g *fakeGit) WorktreeAddNewBranch(path, branch string) error { return nil }

func (g *fakeGit) WorktreeRemove(path string) error {
	g.log("scratch-remove %s", path)
	return os.RemoveAll(path)
}

func (g *fakeGit) WorktreePrune() error { return nil }

func (g *fakeGit) Run(args ...string) (string, error) { return "", nil }
func (g *fakeGit) Dir() string                        { return g.dir }
func (g *fakeGit) At(dir string) git.Runner           { return &fakeGit{repo: g.repo, dir: dir} }

// fakePaths resolves everything under one temp root.
type fakePaths struct{ root string }

func (p fakePaths) RepoPath(team, repo string) string {
	return filepath.Join(p.root, team, "repos", repo)
}
func (p fakePaths) AgentWorktreePath(team, agent, repo string) string {
	return filepath.Join(p.root, team, "worktrees", agent, repo)
}
func (p fakePaths) ScratchPath(team string, taskID int64, repo string) string {
	return filepath.Join(p.root, team, "scratch", fmt.Sprintf("t%d-%s", taskID, repo))
}

type coordFixture struct {
	coord *Coordinator
	db    *store.DB
	repo  *fakeRepo
	task  *models.Task
	paths fakePaths
}

// setupCoordinator builds a coordinator over a real store and a fake git
// repo, with one task in merging owned by eli.
func setupCoordinator(t *testing.T, pipeline []models.PipelineStep) *coordFixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("create team: %v", err)
	}
	if err := db.CreateAgent(&models.Agent{Name: "eli", Team: "backend", Role: models.RoleEngineer}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := db.RegisterRepo(&models.Repo{
		Team: "backend", Name: "api", Path: "/srv/api",
		Approval: models.ApprovalAuto, Pipeline: pipeline,
	}); err != nil {
		t.Fatalf("register repo: %v", err)
	}

	task, err := db.CreateTask("backend", "land me", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := db.UpdateTask("backend", task.ID, store.TaskUpdate{
		DRI:      models.Set("eli"),
		Branches: map[string]string{"api": "eli/t1"},
		BaseSHAs: map[string]string{"api": "base000"},
	}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	if err := db.SetTaskStatus("backend", task.ID, models.TaskStatusMerging); err != nil {
		t.Fatalf("set status: %v", err)
	}
	task, err = db.GetTask("backend", task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}

	repo := &fakeRepo{
		shas:      map[string]string{"main": "main111", "eli/t1": "tip222"},
		rebasedTo: "rebased333",
		ffErrs:    map[string]error{},
	}
	paths := fakePaths{root: t.TempDir()}
	if err := os.MkdirAll(paths.AgentWorktreePath("backend", "eli", "api"), 0o755); err != nil {
		t.Fatalf("agent worktree dir: %v", err)
	}
	coord := NewCoordinator(Config{
		DB:     db,
		Engine: workflow.NewEngine(db, nil),
		Locks:  NewWorktreeLocks(),
		Runner: exec.NewRunner(),
		Paths:  paths,
		GitFor: newFakeGit(repo),
	})
	return &coordFixture{coord: coord, db: db, repo: repo, task: task, paths: paths}
}

func (f *coordFixture) reload(t *testing.T) *models.Task {
	t.Helper()
	task, err := f.db.GetTask("backend", f.task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}

func TestCoordinator_LandsCleanMerge(t *testing.T) {
	f := setupCoordinator(t, nil)

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusDone {
		t.Fatalf("Status = %s, want done", task.Status)
	}
	if task.MergeTips["api"] != "rebased333" {
		t.Errorf("MergeTips = %v", task.MergeTips)
	}
	// The branch base moved to the main it was rebased onto.
	if task.BaseSHAs["api"] != "main111" {
		t.Errorf("BaseSHAs = %v", task.BaseSHAs)
	}
	// main fast-forwarded to the rebased tip.
	if f.repo.shas["main"] != "rebased333" {
		t.Errorf("main = %s, want rebased333", f.repo.shas["main"])
	}
	if f.repo.shas["eli/t1"] != "rebased333" {
		t.Errorf("task branch = %s, want rebased333", f.repo.shas["eli/t1"])
	}
}

func TestCoordinator_WorktreeBusyRetries(t *testing.T) {
	f := setupCoordinator(t, nil)

	// An agent turn holds the read side; the attempt must fail fast and
	// schedule a retry instead of blocking.
	f.coord.locks.AcquireRead("backend", "eli")
	defer f.coord.locks.ReleaseRead("backend", "eli")

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusMerging {
		t.Fatalf("Status = %s, want merging (retry scheduled)", task.Status)
	}
	if task.MergeAttempts != 1 {
		t.Errorf("MergeAttempts = %d, want 1", task.MergeAttempts)
	}
	if task.RetryAfter == nil || !task.RetryAfter.After(time.Now()) {
		t.Errorf("RetryAfter = %v, want in the future", task.RetryAfter)
	}
}

func TestCoordinator_SweepSkipsBackoffWindow(t *testing.T) {
	f := setupCoordinator(t, nil)

	at := time.Now().Add(time.Hour)
	if _, err := f.db.UpdateTask("backend", f.task.ID, store.TaskUpdate{RetryAfter: models.Set(at)}); err != nil {
		t.Fatalf("set retry_after: %v", err)
	}

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusMerging {
		t.Errorf("Status = %s, task inside its backoff window was touched", task.Status)
	}
	if len(f.repo.calls) != 0 {
		t.Errorf("git calls = %v, want none", f.repo.calls)
	}
}

func TestCoordinator_RebaseConflictEscalates(t *testing.T) {
	f := setupCoordinator(t, nil)
	f.repo.rebaseErr = errors.New("could not apply abc123")

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	// Conflicts need new commits: no retries, straight to merge_failed.
	if task.Status != models.TaskStatusMergeFailed {
		t.Fatalf("Status = %s, want merge_failed", task.Status)
	}
	if task.MergeAttempts != 0 {
		t.Errorf("MergeAttempts = %d, conflict must not burn retry budget", task.MergeAttempts)
	}

	// The in-progress rebase was aborted and the scratch tree cleaned up.
	joined := strings.Join(f.repo.calls, "\n")
	if !strings.Contains(joined, "rebase-abort") {
		t.Error("rebase not aborted")
	}
	if !strings.Contains(joined, "scratch-remove") {
		t.Error("scratch worktree not removed")
	}
}

func TestCoordinator_PipelineFailureEscalates(t *testing.T) {
	f := setupCoordinator(t, []models.PipelineStep{
		{Name: "test", Command: "echo boom >&2; exit 1"},
	})

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	// A failing pipeline reflects the commits: no retry budget is spent,
	// the task escalates immediately.
	if task.Status != models.TaskStatusMergeFailed {
		t.Fatalf("Status = %s, want merge_failed", task.Status)
	}
	if task.MergeAttempts != 0 {
		t.Errorf("MergeAttempts = %d, want 0", task.MergeAttempts)
	}
	// main must not have moved.
	if f.repo.shas["main"] != "main111" {
		t.Errorf("main = %s after failed pipeline", f.repo.shas["main"])
	}
}

func TestCoordinator_PipelineRunsInAgentWorktree(t *testing.T) {
	f := setupCoordinator(t, []models.PipelineStep{
		{Name: "test", Command: "touch pipeline-ran"},
	})

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if task := f.reload(t); task.Status != models.TaskStatusDone {
		t.Fatalf("Status = %s, want done", task.Status)
	}
	// The steps execute in the agent's reset worktree, not the scratch
	// tree, so the agent's next turn sees their artifacts.
	marker := filepath.Join(f.paths.AgentWorktreePath("backend", "eli", "api"), "pipeline-ran")
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("pipeline did not run in the agent worktree: %v", err)
	}
}

func TestCoordinator_GivesUpAfterMaxAttempts(t *testing.T) {
	f := setupCoordinator(t, nil)

	// Exhaust the retry budget with a retryable failure.
	f.coord.locks.AcquireRead("backend", "eli")
	defer f.coord.locks.ReleaseRead("backend", "eli")

	for i := 0; i < models.MaxMergeAttempts; i++ {
		// Clear the backoff window so every sweep attempts.
		if _, err := f.db.UpdateTask("backend", f.task.ID, store.TaskUpdate{RetryAfter: models.Null[time.Time]()}); err != nil {
			t.Fatalf("clear retry_after: %v", err)
		}
		if err := f.coord.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep %d failed: %v", i, err)
		}
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusMergeFailed {
		t.Fatalf("Status = %s after %d attempts, want merge_failed", task.Status, models.MaxMergeAttempts)
	}
	if task.MergeAttempts != models.MaxMergeAttempts {
		t.Errorf("MergeAttempts = %d, want %d", task.MergeAttempts, models.MaxMergeAttempts)
	}
}

func TestCoordinator_DirtyMainRetriesWithoutBackoff(t *testing.T) {
	f := setupCoordinator(t, nil)
	f.repo.dirty = true

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusMerging {
		t.Fatalf("Status = %s, want merging", task.Status)
	}
	// DIRTY_MAIN backs off zero: the retry window is already open.
	if task.RetryAfter != nil && task.RetryAfter.After(time.Now().Add(time.Second)) {
		t.Errorf("RetryAfter = %v, want immediate", task.RetryAfter)
	}
}

func TestCoordinator_BranchMovedMidMerge(t *testing.T) {
	f := setupCoordinator(t, nil)
	// Simulate the agent pushing a commit after the attempt resolved the
	// branch tip: the CAS advance of the branch fails.
	f.repo.ffErrs["eli/t1"] = errors.New("ref eli/t1 changed")

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusMerging {
		t.Fatalf("Status = %s, want merging (retryable race)", task.Status)
	}
	if f.repo.shas["main"] != "main111" {
		t.Errorf("main moved despite the failed branch advance")
	}
}

func TestCoordinator_MainMovedMidMerge(t *testing.T) {
	f := setupCoordinator(t, nil)
	f.repo.ffErrs["main"] = errors.New("ref main changed")

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusMerging {
		t.Fatalf("Status = %s, want merging (DIRTY_MAIN race)", task.Status)
	}
}

func TestCoordinator_PartialTipsSkipLandedRepos(t *testing.T) {
	f := setupCoordinator(t, nil)

	// A prior attempt already landed the api repo.
	if _, err := f.db.UpdateTask("backend", f.task.ID, store.TaskUpdate{
		MergeTips: map[string]string{"api": "landed999"},
	}); err != nil {
		t.Fatalf("seed merge tips: %v", err)
	}

	if err := f.coord.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	task := f.reload(t)
	if task.Status != models.TaskStatusDone {
		t.Fatalf("Status = %s, want done", task.Status)
	}
	// The recorded tip survives; no second landing happened.
	if task.MergeTips["api"] != "landed999" {
		t.Errorf("MergeTips = %v", task.MergeTips)
	}
	if len(f.repo.calls) != 0 {
		t.Errorf("git calls = %v, want none for an already-landed repo", f.repo.calls)
	}
}
