package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowState is the authoritative lifecycle state of a review. The graph
// only moves forward; Review.Status and the queue entry are projections of it.
type WorkflowState string

const (
	StatePending       WorkflowState = "PENDING"
	StateAutoReplied   WorkflowState = "AUTO_REPLIED"
	StateManualPending WorkflowState = "MANUAL_PENDING"
	StateClosed        WorkflowState = "CLOSED"
	StateEscalated     WorkflowState = "ESCALATED"
	StateCompleted     WorkflowState = "COMPLETED"
)

// workflowTransitions defines the allowed forward edges:
//
//	PENDING -> AUTO_REPLIED -> CLOSED -> COMPLETED
//	PENDING -> MANUAL_PENDING -> ESCALATED -> COMPLETED
//	                          -> COMPLETED (manual reply before escalation)
var workflowTransitions = map[WorkflowState][]WorkflowState{
	StatePending:       {StateAutoReplied, StateManualPending},
	StateAutoReplied:   {StateClosed},
	StateManualPending: {StateEscalated, StateCompleted},
	StateClosed:        {StateCompleted},
	StateEscalated:     {StateCompleted},
	StateCompleted:     {},
}

// CanTransitionTo reports whether the graph allows moving to next.
func (s WorkflowState) CanTransitionTo(next WorkflowState) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsReminderTerminal reports whether no further reminders may be sent for a
// review in this state, even if a queue timer erroneously fires.
func (s WorkflowState) IsReminderTerminal() bool {
	return s == StateEscalated || s == StateCompleted
}

// ReviewWorkflow is the per-review state machine row, 1:1 with Review.
type ReviewWorkflow struct {
	ReviewID       uuid.UUID     `gorm:"type:uuid;primary_key"`
	CurrentState   WorkflowState `gorm:"type:varchar(20);not null;default:'PENDING'"`
	ReminderCount  int           `gorm:"default:0"`
	LastActionAt   time.Time
	LastReminderAt *time.Time
	NextReminderAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
