package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/exec"
	"github.com/denyherianto/delegate/internal/git"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/internal/workflow"
	"github.com/denyherianto/delegate/pkg/models"
)

const defaultMainBranch = "main"

// Paths resolves filesystem locations for a team's checkouts.
type Paths interface {
	// RepoPath is the shared main checkout of a registered repo.
	RepoPath(team, repo string) string
	// AgentWorktreePath is an agent's private worktree of a repo.
	AgentWorktreePath(team, agent, repo string) string
	// ScratchPath is a disposable directory for merge worktrees.
	ScratchPath(team string, taskID int64, repo string) string
}

// attemptError carries the failure classification through an attempt.
type attemptError struct {
	reason FailureReason
	err    error
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func fail(reason FailureReason, format string, args ...any) *attemptError {
	return &attemptError{reason: reason, err: fmt.Errorf(format, args...)}
}

// Config configures a Coordinator.
type Config struct {
	DB     *store.DB
	Engine *workflow.Engine
	Bus    *bus.Bus
	Locks  *WorktreeLocks
	Runner exec.CommandRunner
	Paths  Paths
	// GitFor builds a runner for a repository path. Defaults to
	// git.NewRunner; tests substitute fakes.
	GitFor func(path string) git.Runner
	// Interval is the polling cadence. Defaults to 2s.
	Interval time.Duration
	// MainBranch defaults to "main".
	MainBranch string
}

// Coordinator polls for merging tasks and lands them onto main one at a
// time per team. All git mutation of an agent's worktree happens under
// the worktree write lock.
type Coordinator struct {
	db     *store.DB
	engine *workflow.Engine
	bus    *bus.Bus
	locks  *WorktreeLocks
	runner exec.CommandRunner
	paths  Paths
	gitFor func(path string) git.Runner

	interval   time.Duration
	mainBranch string
}

// NewCoordinator creates a merge coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.GitFor == nil {
		cfg.GitFor = func(path string) git.Runner { return git.NewRunner(path) }
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = defaultMainBranch
	}
	return &Coordinator{
		db:         cfg.DB,
		engine:     cfg.Engine,
		bus:        cfg.Bus,
		locks:      cfg.Locks,
		runner:     cfg.Runner,
		paths:      cfg.Paths,
		gitFor:     cfg.GitFor,
		interval:   cfg.Interval,
		mainBranch: cfg.MainBranch,
	}
}

// Run polls until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				log.Printf("[merge] sweep failed: %v", err)
			}
		}
	}
}

// Sweep processes every merging task whose retry window has elapsed.
func (c *Coordinator) Sweep(ctx context.Context) error {
	teams, err := c.db.ListTeams()
	if err != nil {
		return err
	}
	for _, team := range teams {
		tasks, err := c.db.ListTasks(team.Name, store.TaskFilter{
			Status: models.TaskStatusMerging,
		})
		if err != nil {
			log.Printf("[merge] %s: list failed: %v", team.Name, err)
			continue
		}
		for _, task := range tasks {
			if task.RetryAfter != nil && time.Now().Before(*task.RetryAfter) {
				continue
			}
			c.process(ctx, task)
		}
	}
	return nil
}

// process runs one landing attempt for a task and routes the outcome
// through the workflow engine.
func (c *Coordinator) process(ctx context.Context, task *models.Task) {
	if c.bus != nil {
		c.bus.Broadcast(bus.EventMergeStarted, bus.Event{
			Team:   task.Team,
			Agent:  task.DRI,
			TaskID: task.ID,
		})
	}

	mergeTips, aerr := c.attempt(ctx, task)
	if aerr == nil {
		if _, err := c.engine.CompleteMerge(task.Team, task.ID, mergeTips); err != nil {
			log.Printf("[merge] T%d: failed to record completion: %v", task.ID, err)
			return
		}
		if c.bus != nil {
			c.bus.Broadcast(bus.EventMergeCompleted, bus.Event{
				Team:   task.Team,
				Agent:  task.DRI,
				TaskID: task.ID,
			})
		}
		return
	}

	diagnostic := aerr.Error()
	log.Printf("[merge] T%d attempt %d: %s", task.ID, task.MergeAttempts+1, diagnostic)

	switch {
	case !aerr.reason.Retryable():
		c.escalate(task, diagnostic)
	case task.MergeAttempts+1 >= models.MaxMergeAttempts:
		// Record the final attempt so the count reflects every try.
		if _, err := c.db.UpdateTask(task.Team, task.ID, store.TaskUpdate{
			MergeAttempts: models.Set(task.MergeAttempts + 1),
		}); err != nil {
			log.Printf("[merge] T%d: failed to record final attempt: %v", task.ID, err)
		}
		c.escalate(task, fmt.Sprintf("gave up after %d attempts: %s", task.MergeAttempts+1, diagnostic))
	default:
		retryAt := time.Now().Add(aerr.reason.Backoff(task.MergeAttempts + 1))
		if _, err := c.engine.RecordMergeRetry(task.Team, task.ID, retryAt, diagnostic); err != nil {
			log.Printf("[merge] T%d: failed to record retry: %v", task.ID, err)
		}
	}
}

func (c *Coordinator) escalate(task *models.Task, diagnostic string) {
	if _, err := c.engine.FailMerge(task.Team, task.ID, diagnostic); err != nil {
		log.Printf("[merge] T%d: failed to record failure: %v", task.ID, err)
	}
	if c.bus != nil {
		c.bus.Broadcast(bus.EventMergeCompleted, bus.Event{
			Team:   task.Team,
			Agent:  task.DRI,
			TaskID: task.ID,
			Error:  diagnostic,
		})
	}
}

// attempt lands every outstanding repo of the task. Repos already
// recorded in merge_tips from a prior attempt are skipped.
func (c *Coordinator) attempt(ctx context.Context, task *models.Task) (map[string]string, *attemptError) {
	if !c.locks.TryAcquireWrite(task.Team, task.DRI) {
		return nil, fail(FailureWorktree, "worktree of %s is busy", task.DRI)
	}
	defer c.locks.ReleaseWrite(task.Team, task.DRI)

	mergeTips := make(map[string]string, len(task.Branches))
	for repo, tip := range task.MergeTips {
		mergeTips[repo] = tip
	}

	for _, repo := range task.Repos() {
		if _, done := mergeTips[repo]; done {
			continue
		}
		tip, aerr := c.landRepo(ctx, task, repo)
		if aerr != nil {
			// Persist partial progress so retries skip landed repos.
			if len(mergeTips) > len(task.MergeTips) {
				if _, err := c.db.UpdateTask(task.Team, task.ID, store.TaskUpdate{MergeTips: mergeTips}); err != nil {
					log.Printf("[merge] T%d: failed to persist partial tips: %v", task.ID, err)
				}
			}
			return nil, aerr
		}
		mergeTips[repo] = tip
	}
	return mergeTips, nil
}

// landRepo executes the landing protocol for one repo: rebase the task
// branch onto main in a scratch worktree, reset the agent's worktree to
// the rebased branch, run the pre-merge pipeline, and fast-forward main.
func (c *Coordinator) landRepo(ctx context.Context, task *models.Task, repo string) (string, *attemptError) {
	branch := task.Branches[repo]
	repoGit := c.gitFor(c.paths.RepoPath(task.Team, repo))

	dirty, err := repoGit.IsDirty()
	if err != nil {
		return "", fail(FailureWorktree, "status of %s: %v", repo, err)
	}
	if dirty {
		return "", fail(FailureDirtyMain, "%s main checkout has uncommitted changes", repo)
	}

	oldMain, err := repoGit.RevParse(c.mainBranch)
	if err != nil {
		return "", fail(FailureWorktree, "resolve %s: %v", c.mainBranch, err)
	}
	oldTip, err := repoGit.RevParse(branch)
	if err != nil {
		return "", fail(FailureWorktree, "resolve %s: %v", branch, err)
	}

	scratch := c.paths.ScratchPath(task.Team, task.ID, repo)
	if err := os.MkdirAll(filepath.Dir(scratch), 0o755); err != nil {
		return "", fail(FailureWorktree, "scratch dir: %v", err)
	}
	if err := repoGit.WorktreeAddDetached(scratch, branch); err != nil {
		return "", fail(FailureWorktree, "scratch worktree: %v", err)
	}
	defer func() {
		if err := repoGit.WorktreeRemove(scratch); err != nil {
			log.Printf("[merge] T%d: scratch cleanup: %v", task.ID, err)
		}
		if err := repoGit.WorktreePrune(); err != nil {
			log.Printf("[merge] T%d: worktree prune: %v", task.ID, err)
		}
	}()

	scratchGit := repoGit.At(scratch)
	if err := scratchGit.Rebase(oldMain); err != nil {
		if abortErr := scratchGit.RebaseAbort(); abortErr != nil {
			log.Printf("[merge] T%d: rebase abort: %v", task.ID, abortErr)
		}
		return "", fail(FailureRebaseConflict, "rebase %s onto %s: %v", branch, c.mainBranch, err)
	}

	newTip, err := scratchGit.HeadSHA()
	if err != nil {
		return "", fail(FailureWorktree, "resolve rebased tip: %v", err)
	}

	// Move the branch to the rebased tip; CAS on the old tip so new
	// commits pushed mid-merge surface as a retryable failure.
	if err := repoGit.FastForward(branch, newTip, oldTip); err != nil {
		return "", fail(FailureWorktree, "advance %s: %v", branch, err)
	}

	// Bring the agent's worktree to the rebased branch. reset --hard
	// leaves untracked files alone.
	agentDir := c.paths.AgentWorktreePath(task.Team, task.DRI, repo)
	agentGit := repoGit.At(agentDir)
	if err := agentGit.ResetHardTo(newTip); err != nil {
		return "", fail(FailureWorktree, "reset worktree of %s: %v", task.DRI, err)
	}

	// The branch now sits on current main.
	if _, err := c.db.UpdateTask(task.Team, task.ID, store.TaskUpdate{
		BaseSHAs: map[string]string{repo: oldMain},
	}); err != nil {
		return "", fail(FailureWorktree, "record base sha: %v", err)
	}

	// The pipeline runs in the agent's worktree, now sitting on the
	// rebased tip, so it sees exactly what the agent's next turn would.
	steps, err := c.pipelineSteps(task.Team, repo)
	if err != nil {
		return "", fail(FailureWorktree, "load pipeline: %v", err)
	}
	if results, err := RunPipeline(ctx, c.runner, agentDir, steps); err != nil {
		last := results[len(results)-1]
		return "", fail(FailurePreMergeFailed, "%v\n%s", err, tail(last.Output, 2000))
	}

	// Land: fast-forward main to the rebased tip. CAS on the old main
	// SHA turns a concurrent move of main into a retryable race.
	if err := repoGit.FastForward(c.mainBranch, newTip, oldMain); err != nil {
		return "", fail(FailureDirtyMain, "%s moved during merge: %v", c.mainBranch, err)
	}
	// Sync the main checkout's working tree with the advanced ref.
	if err := repoGit.ResetHardTo(newTip); err != nil {
		return "", fail(FailureWorktree, "sync main checkout: %v", err)
	}

	return newTip, nil
}

func (c *Coordinator) pipelineSteps(team, repo string) ([]models.PipelineStep, error) {
	r, err := c.db.GetRepo(team, repo)
	if err != nil {
		return nil, err
	}
	return r.Pipeline, nil
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
