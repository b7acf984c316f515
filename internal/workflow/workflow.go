// Package workflow implements the task state machine. All status changes
// go through the Engine, which validates transitions, enforces guards,
// writes event audit rows, and broadcasts on the event bus.
package workflow

import (
	"errors"
	"fmt"

	"github.com/denyherianto/delegate/pkg/models"
)

// ErrInvalidTransition indicates a status change not permitted by the
// transition table.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrGuardFailed indicates a transition whose guard condition is unmet.
var ErrGuardFailed = errors.New("transition guard failed")

// transitions maps each state to its permitted successors.
// discarded is additionally reachable from every non-terminal state.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusUnassigned: {models.TaskStatusAssigned},
	models.TaskStatusAssigned:   {models.TaskStatusInProgress},
	models.TaskStatusInProgress: {models.TaskStatusInReview},
	models.TaskStatusInReview:   {models.TaskStatusInApproval, models.TaskStatusRejected},
	models.TaskStatusInApproval: {models.TaskStatusMerging, models.TaskStatusRejected},
	models.TaskStatusMerging:    {models.TaskStatusDone, models.TaskStatusMerging, models.TaskStatusMergeFailed},
	models.TaskStatusRejected:   {models.TaskStatusInProgress},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to models.TaskStatus) bool {
	if to == models.TaskStatusDiscarded {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns ErrInvalidTransition if from -> to is not permitted.
func Validate(from, to models.TaskStatus) error {
	if !from.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
