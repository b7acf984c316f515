// Package models defines the shared domain types for delegate.
package models

import "time"

// TaskStatus represents the current state of a task in the workflow.
type TaskStatus string

const (
	// TaskStatusUnassigned indicates the task has no DRI yet.
	TaskStatusUnassigned TaskStatus = "unassigned"
	// TaskStatusAssigned indicates a DRI has been chosen but work has not begun.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the DRI is actively working the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusInReview indicates the work is waiting for QA review.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusInApproval indicates the work passed review and awaits release.
	TaskStatusInApproval TaskStatus = "in_approval"
	// TaskStatusMerging indicates the merge coordinator owns the task.
	TaskStatusMerging TaskStatus = "merging"
	// TaskStatusMergeFailed indicates the merge could not complete.
	TaskStatusMergeFailed TaskStatus = "merge_failed"
	// TaskStatusRejected indicates a reviewer or approver rejected the work.
	TaskStatusRejected TaskStatus = "rejected"
	// TaskStatusDone indicates the work was merged to main.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusDiscarded indicates the task was abandoned by the manager.
	TaskStatusDiscarded TaskStatus = "discarded"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusUnassigned, TaskStatusAssigned, TaskStatusInProgress,
		TaskStatusInReview, TaskStatusInApproval, TaskStatusMerging,
		TaskStatusMergeFailed, TaskStatusRejected, TaskStatusDone,
		TaskStatusDiscarded:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusRejected, TaskStatusMergeFailed, TaskStatusDiscarded:
		return true
	default:
		return false
	}
}

// MaxMergeAttempts is the retry cap for retryable merge failures.
const MaxMergeAttempts = 3

// Task represents a unit of work owned by a team.
type Task struct {
	// ID is the store-allocated monotonic identifier.
	ID int64 `json:"id"`
	// Team is the owning team's slug.
	Team string `json:"team"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// DRI is the name of the responsible agent, empty if unassigned.
	DRI string `json:"dri,omitempty"`
	// Status is the current workflow state.
	Status TaskStatus `json:"status"`
	// Branches maps repo name to the task's working branch.
	Branches map[string]string `json:"branches,omitempty"`
	// BaseSHAs maps repo name to the main SHA the branch was based on.
	BaseSHAs map[string]string `json:"base_shas,omitempty"`
	// MergeTips maps repo name to the SHA main was fast-forwarded to.
	MergeTips map[string]string `json:"merge_tips,omitempty"`
	// MergeAttempts counts retryable merge failures; never decreases.
	MergeAttempts int `json:"merge_attempts"`
	// RetryAfter, when set on a merging task, skips it until the instant passes.
	RetryAfter *time.Time `json:"retry_after,omitempty"`
	// RejectionReason records why a reviewer or approver rejected the work.
	RejectionReason string `json:"rejection_reason,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task row last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadyForProgress reports whether the fields required by the
// assigned -> in_progress guard are all present for at least one repo.
func (t *Task) ReadyForProgress() bool {
	if t.DRI == "" || len(t.Branches) == 0 {
		return false
	}
	for repo, branch := range t.Branches {
		if branch == "" {
			return false
		}
		if t.BaseSHAs[repo] == "" {
			return false
		}
	}
	return true
}

// Repos returns the repo names the task has branches in.
func (t *Task) Repos() []string {
	repos := make([]string, 0, len(t.Branches))
	for name := range t.Branches {
		repos = append(repos, name)
	}
	return repos
}
