package workflow

import (
	"fmt"
	"log"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/pkg/models"
)

// systemSender is the sender recorded on event audit rows.
const systemSender = "system"

// Engine drives tasks through the workflow. Every transition writes an
// event audit row and broadcasts a task_changed event.
type Engine struct {
	db  *store.DB
	bus *bus.Bus
}

// NewEngine creates a workflow engine over the given store and bus.
func NewEngine(db *store.DB, b *bus.Bus) *Engine {
	return &Engine{db: db, bus: b}
}

// AssignTask moves an unassigned task to assigned with the given DRI.
// The DRI must resolve to an agent.
func (e *Engine) AssignTask(team string, id int64, dri string) (*models.Task, error) {
	agent, err := e.db.GetAgent(dri)
	if err != nil {
		return nil, fmt.Errorf("%w: dri %q does not resolve to an agent", ErrGuardFailed, dri)
	}
	if agent.Team != team {
		return nil, fmt.Errorf("%w: agent %q belongs to team %q", ErrGuardFailed, dri, agent.Team)
	}

	task, err := e.transition(team, id, models.TaskStatusAssigned, func(task *models.Task) error {
		_, err := e.db.UpdateTask(team, id, store.TaskUpdate{DRI: models.Set(dri)})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, fmt.Sprintf("task assigned to %s", dri))
	return task, nil
}

// StartTask moves an assigned task to in_progress. The task must have a
// DRI plus branch and base SHA for every repo it touches.
func (e *Engine) StartTask(team string, id int64) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusInProgress, func(task *models.Task) error {
		if !task.ReadyForProgress() {
			return fmt.Errorf("%w: dri, repo, branch, and base_sha must all be present", ErrGuardFailed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, "work started")
	return task, nil
}

// SubmitForReview moves an in_progress task to in_review.
func (e *Engine) SubmitForReview(team string, id int64) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusInReview, nil)
	if err != nil {
		return nil, err
	}
	e.audit(task, "submitted for review")
	return task, nil
}

// Approve moves an in_review task to in_approval. When every repo the
// task touches is configured for auto approval, the task is released to
// merging in the same call; any manual repo leaves it waiting for a human.
func (e *Engine) Approve(team string, id int64) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusInApproval, nil)
	if err != nil {
		return nil, err
	}
	e.audit(task, "review passed")

	if e.autoApproved(task) {
		return e.Release(team, id)
	}
	return task, nil
}

// autoApproved reports whether every repo on the task auto-releases. A
// repo lookup failure counts as manual, leaving the task for a human.
func (e *Engine) autoApproved(task *models.Task) bool {
	repos := task.Repos()
	if len(repos) == 0 {
		return false
	}
	for _, name := range repos {
		repo, err := e.db.GetRepo(task.Team, name)
		if err != nil {
			log.Printf("[workflow] repo %s/%s lookup failed, holding T%d for manual release: %v",
				task.Team, name, task.ID, err)
			return false
		}
		if repo.Approval != models.ApprovalAuto {
			return false
		}
	}
	return true
}

// Reject moves an in_review or in_approval task to rejected, records the
// reason, and notifies the team manager.
func (e *Engine) Reject(team string, id int64, reason string) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusRejected, func(task *models.Task) error {
		_, err := e.db.UpdateTask(team, id, store.TaskUpdate{
			RejectionReason: models.Set(reason),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, fmt.Sprintf("rejected: %s", reason))
	e.notifyManager(task, fmt.Sprintf("Task T%d (%s) was rejected: %s", task.ID, task.Title, reason))
	return task, nil
}

// Release moves an in_approval task to merging, handing it to the merge
// coordinator. Approve invokes this itself for all-auto repos; manual
// repos wait for a human to call it.
func (e *Engine) Release(team string, id int64) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusMerging, nil)
	if err != nil {
		return nil, err
	}
	e.audit(task, "released for merge")
	return task, nil
}

// CompleteMerge moves a merging task to done and records the merged tips.
func (e *Engine) CompleteMerge(team string, id int64, mergeTips map[string]string) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusDone, func(task *models.Task) error {
		_, err := e.db.UpdateTask(team, id, store.TaskUpdate{
			MergeTips:  mergeTips,
			RetryAfter: models.Null[time.Time](),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, "merged to main")
	return task, nil
}

// RecordMergeRetry keeps a merging task in merging after a retryable
// failure: increments merge_attempts and sets retry_after.
func (e *Engine) RecordMergeRetry(team string, id int64, retryAfter time.Time, diagnostic string) (*models.Task, error) {
	task, err := e.db.GetTask(team, id)
	if err != nil {
		return nil, err
	}
	if err := Validate(task.Status, models.TaskStatusMerging); err != nil {
		return nil, err
	}

	task, err = e.db.UpdateTask(team, id, store.TaskUpdate{
		MergeAttempts: models.Set(task.MergeAttempts + 1),
		RetryAfter:    models.Set(retryAfter),
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, fmt.Sprintf("merge attempt %d failed, will retry: %s", task.MergeAttempts, diagnostic))
	return task, nil
}

// FailMerge moves a merging task to merge_failed.
func (e *Engine) FailMerge(team string, id int64, diagnostic string) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusMergeFailed, func(task *models.Task) error {
		_, err := e.db.UpdateTask(team, id, store.TaskUpdate{
			RetryAfter: models.Null[time.Time](),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, fmt.Sprintf("merge failed: %s", diagnostic))
	e.notifyManager(task, fmt.Sprintf("Task T%d (%s) failed to merge: %s", task.ID, task.Title, diagnostic))
	return task, nil
}

// Rework moves a rejected task back to in_progress and clears the
// rejection reason.
func (e *Engine) Rework(team string, id int64) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusInProgress, func(task *models.Task) error {
		_, err := e.db.UpdateTask(team, id, store.TaskUpdate{
			RejectionReason: models.Null[string](),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.audit(task, "rework started")
	return task, nil
}

// Discard moves any non-terminal task to discarded.
func (e *Engine) Discard(team string, id int64) (*models.Task, error) {
	task, err := e.transition(team, id, models.TaskStatusDiscarded, nil)
	if err != nil {
		return nil, err
	}
	e.audit(task, "task discarded")
	return task, nil
}

// transition validates and applies a status change. The optional apply
// function runs after validation, before the status write; it can apply
// side-effect field updates and enforce guards.
func (e *Engine) transition(team string, id int64, to models.TaskStatus, apply func(*models.Task) error) (*models.Task, error) {
	task, err := e.db.GetTask(team, id)
	if err != nil {
		return nil, err
	}

	if err := Validate(task.Status, to); err != nil {
		return nil, err
	}

	if apply != nil {
		if err := apply(task); err != nil {
			return nil, err
		}
	}

	if err := e.db.SetTaskStatus(team, id, to); err != nil {
		return nil, err
	}
	return e.db.GetTask(team, id)
}

// audit writes an event row addressed to the DRI (or the team itself when
// unassigned) and broadcasts task_changed.
func (e *Engine) audit(task *models.Task, message string) {
	recipient := task.DRI
	if recipient == "" {
		recipient = task.Team
	}
	if _, err := e.db.AppendEvent(task.Team, systemSender, recipient, message); err != nil {
		log.Printf("[workflow] failed to write audit row for T%d: %v", task.ID, err)
	}
	if e.bus != nil {
		e.bus.Broadcast(bus.EventTaskChanged, bus.Event{
			Team:    task.Team,
			Agent:   task.DRI,
			TaskID:  task.ID,
			Message: message,
		})
	}
}

// notifyManager sends a chat message to the team's manager agent, if any.
func (e *Engine) notifyManager(task *models.Task, body string) {
	agents, err := e.db.ListAgents(task.Team)
	if err != nil {
		log.Printf("[workflow] failed to list agents for %s: %v", task.Team, err)
		return
	}
	for _, agent := range agents {
		if agent.Role == models.RoleManager {
			if _, err := e.db.SendMessage(task.Team, systemSender, agent.Name, body); err != nil {
				log.Printf("[workflow] failed to notify manager %s: %v", agent.Name, err)
			}
			return
		}
	}
}
