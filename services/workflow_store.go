package services

import (
	"errors"
	"fmt"
	"time"

	"reviewpilot-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when an update would move a workflow
// against the transition graph.
var ErrInvalidTransition = errors.New("workflow transition not allowed")

// WorkflowStore owns the per-review workflow rows. The workflow is the
// authoritative lifecycle record; review.status and the queue entry mirror it.
type WorkflowStore struct {
	db *gorm.DB
}

func NewWorkflowStore(db *gorm.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

func (s *WorkflowStore) WithTx(tx *gorm.DB) *WorkflowStore {
	return &WorkflowStore{db: tx}
}

// Init creates the workflow row in PENDING. Called in the same transaction as
// the review insert.
func (s *WorkflowStore) Init(reviewID uuid.UUID, at time.Time) error {
	wf := models.ReviewWorkflow{
		ReviewID:     reviewID,
		CurrentState: models.StatePending,
		LastActionAt: at,
	}
	return s.db.Create(&wf).Error
}

func (s *WorkflowStore) Get(reviewID uuid.UUID) (*models.ReviewWorkflow, error) {
	var wf models.ReviewWorkflow
	err := s.db.First(&wf, "review_id = ?", reviewID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// Advance moves the workflow to next, enforcing the transition graph.
// Advancing to the current state is a no-op so retried updates stay safe.
func (s *WorkflowStore) Advance(reviewID uuid.UUID, next models.WorkflowState) error {
	var wf models.ReviewWorkflow
	if err := s.db.First(&wf, "review_id = ?", reviewID).Error; err != nil {
		return err
	}
	if wf.CurrentState == next {
		return nil
	}
	if !wf.CurrentState.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wf.CurrentState, next)
	}
	wf.CurrentState = next
	wf.LastActionAt = time.Now()
	return s.db.Save(&wf).Error
}

// SyncReminderState mirrors the queue entry's reminder bookkeeping onto the
// workflow after a reminder was processed.
func (s *WorkflowStore) SyncReminderState(reviewID uuid.UUID, count int, lastAt time.Time, nextAt *time.Time) error {
	var wf models.ReviewWorkflow
	if err := s.db.First(&wf, "review_id = ?", reviewID).Error; err != nil {
		return err
	}
	wf.ReminderCount = count
	wf.LastReminderAt = &lastAt
	wf.NextReminderAt = nextAt
	wf.LastActionAt = lastAt
	return s.db.Save(&wf).Error
}
