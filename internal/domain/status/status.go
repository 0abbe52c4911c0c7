// Package status defines the lifecycle states of a remote engine run.
package status

import "errors"

// RunStatus represents the lifecycle status of one remote run.
type RunStatus string

const (
	// Non-terminal states
	StatusCreated   RunStatus = "created"   // Context handle resolved, nothing sent yet
	StatusSubmitted RunStatus = "submitted" // Turn appended, run requested from the engine
	StatusPolling   RunStatus = "polling"   // Waiting for the engine to reach a terminal state

	// Terminal states (no further transitions allowed)
	StatusCompleted      RunStatus = "completed"       // Engine produced a reply
	StatusRequiresAction RunStatus = "requires_action" // Engine asked for a capability we do not support
	StatusFailed         RunStatus = "failed"          // Engine reported failure
	StatusCancelled      RunStatus = "cancelled"       // Run cancelled remotely
	StatusExpired        RunStatus = "expired"         // Engine expired the run
	StatusTimedOut       RunStatus = "timed_out"       // Local polling budget exhausted
)

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal returns true if the status is a terminal state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRequiresAction, StatusFailed,
		StatusCancelled, StatusExpired, StatusTimedOut:
		return true
	}
	return false
}

// IsActive returns true if the run is still being driven.
func (s RunStatus) IsActive() bool {
	return s == StatusCreated || s == StatusSubmitted || s == StatusPolling
}

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[RunStatus][]RunStatus{
	StatusCreated:   {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusPolling, StatusFailed, StatusTimedOut},
	StatusPolling: {
		StatusPolling, StatusCompleted, StatusRequiresAction,
		StatusFailed, StatusCancelled, StatusExpired, StatusTimedOut,
	},
	// Terminal states have no valid transitions
	StatusCompleted:      {},
	StatusRequiresAction: {},
	StatusFailed:         {},
	StatusCancelled:      {},
	StatusExpired:        {},
	StatusTimedOut:       {},
}

// CanTransitionTo checks if a transition from the current status to the target is valid.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	validTargets, ok := ValidTransitions[s]
	if !ok {
		return false
	}
	for _, t := range validTargets {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo attempts to transition to the target status and returns an error if invalid.
func (s RunStatus) TransitionTo(target RunStatus) (RunStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}
	return target, nil
}
