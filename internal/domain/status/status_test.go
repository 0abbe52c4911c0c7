package status_test

import (
	"testing"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/status"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   status.RunStatus
		expected bool
	}{
		{"created is not terminal", status.StatusCreated, false},
		{"submitted is not terminal", status.StatusSubmitted, false},
		{"polling is not terminal", status.StatusPolling, false},
		{"completed is terminal", status.StatusCompleted, true},
		{"requires_action is terminal", status.StatusRequiresAction, true},
		{"failed is terminal", status.StatusFailed, true},
		{"cancelled is terminal", status.StatusCancelled, true},
		{"expired is terminal", status.StatusExpired, true},
		{"timed_out is terminal", status.StatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("RunStatus.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRunStatus_IsActive(t *testing.T) {
	tests := []struct {
		name     string
		status   status.RunStatus
		expected bool
	}{
		{"created is active", status.StatusCreated, true},
		{"submitted is active", status.StatusSubmitted, true},
		{"polling is active", status.StatusPolling, true},
		{"completed is not active", status.StatusCompleted, false},
		{"failed is not active", status.StatusFailed, false},
		{"timed_out is not active", status.StatusTimedOut, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsActive(); got != tt.expected {
				t.Errorf("RunStatus.IsActive() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRunStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name  string
		from  status.RunStatus
		to    status.RunStatus
		canDo bool
	}{
		// Valid transitions from created
		{"created to submitted", status.StatusCreated, status.StatusSubmitted, true},
		{"created to failed", status.StatusCreated, status.StatusFailed, true},
		{"created to completed - invalid", status.StatusCreated, status.StatusCompleted, false},

		// Valid transitions from submitted
		{"submitted to polling", status.StatusSubmitted, status.StatusPolling, true},
		{"submitted to timed_out", status.StatusSubmitted, status.StatusTimedOut, true},
		{"submitted to created - invalid", status.StatusSubmitted, status.StatusCreated, false},

		// Valid transitions from polling
		{"polling to polling", status.StatusPolling, status.StatusPolling, true},
		{"polling to completed", status.StatusPolling, status.StatusCompleted, true},
		{"polling to requires_action", status.StatusPolling, status.StatusRequiresAction, true},
		{"polling to cancelled", status.StatusPolling, status.StatusCancelled, true},
		{"polling to expired", status.StatusPolling, status.StatusExpired, true},
		{"polling to timed_out", status.StatusPolling, status.StatusTimedOut, true},

		// Terminal states have no valid transitions
		{"completed to anything - invalid", status.StatusCompleted, status.StatusPolling, false},
		{"cancelled to anything - invalid", status.StatusCancelled, status.StatusPolling, false},
		{"timed_out to anything - invalid", status.StatusTimedOut, status.StatusSubmitted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.canDo {
				t.Errorf("RunStatus.CanTransitionTo() = %v, want %v", got, tt.canDo)
			}
		})
	}
}

func TestRunStatus_TransitionTo(t *testing.T) {
	// Valid transition
	s := status.StatusCreated
	newStatus, err := s.TransitionTo(status.StatusSubmitted)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if newStatus != status.StatusSubmitted {
		t.Errorf("Expected status to be submitted, got %v", newStatus)
	}

	// Invalid transition
	s = status.StatusCompleted
	_, err = s.TransitionTo(status.StatusPolling)
	if err != status.ErrInvalidTransition {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}
