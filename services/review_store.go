package services

import (
	"errors"
	"time"

	"reviewpilot-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReviewStore owns the reviews table and the per-outlet fetch checkpoints.
type ReviewStore struct {
	db *gorm.DB
}

func NewReviewStore(db *gorm.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *ReviewStore) WithTx(tx *gorm.DB) *ReviewStore {
	return &ReviewStore{db: tx}
}

func (s *ReviewStore) Create(review *models.Review) error {
	return s.db.Create(review).Error
}

// FindByExternalID returns (nil, nil) when no review carries the id.
func (s *ReviewStore) FindByExternalID(externalID string) (*models.Review, error) {
	var review models.Review
	err := s.db.Where("external_review_id = ?", externalID).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// FindByTuple is the idempotency fallback for platforms that omit review ids:
// a review matches on (outlet, customer, rating).
func (s *ReviewStore) FindByTuple(outletID uuid.UUID, customerName string, rating int) (*models.Review, error) {
	var review models.Review
	err := s.db.Where("outlet_id = ? AND customer_name = ? AND rating = ?",
		outletID, customerName, rating).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *ReviewStore) FindByID(id uuid.UUID) (*models.Review, error) {
	var review models.Review
	err := s.db.First(&review, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *ReviewStore) SetStatus(id uuid.UUID, status string) error {
	return s.db.Model(&models.Review{}).Where("id = ?", id).
		Update("status", status).Error
}

// SetAutoReply stores the generated reply and moves the review to
// AUTO_REPLIED in one update.
func (s *ReviewStore) SetAutoReply(id uuid.UUID, reply string) error {
	return s.db.Model(&models.Review{}).Where("id = ?", id).Updates(map[string]interface{}{
		"ai_reply_text": reply,
		"status":        models.ReviewStatusAutoReplied,
	}).Error
}

// SetManualReply stores a human reply and completes the review.
func (s *ReviewStore) SetManualReply(id uuid.UUID, reply string) error {
	return s.db.Model(&models.Review{}).Where("id = ?", id).Updates(map[string]interface{}{
		"manual_reply_text": reply,
		"status":            models.ReviewStatusCompleted,
	}).Error
}

// ListPendingPositives returns positive reviews whose reply generation failed
// on an earlier cycle and is due for another attempt.
func (s *ReviewStore) ListPendingPositives(limit int) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.Where("status = ? AND rating >= ?", models.ReviewStatusPending, 4).
		Order("created_at asc").Limit(limit).Find(&reviews).Error
	return reviews, err
}

// ListUnpostedAutoReplies returns reviews with a generated reply that never
// made it to the platform.
func (s *ReviewStore) ListUnpostedAutoReplies(limit int) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.Where("status = ?", models.ReviewStatusAutoReplied).
		Order("created_at asc").Limit(limit).Find(&reviews).Error
	return reviews, err
}

// Checkpoint returns the outlet's fetch low-water mark, nil on first run.
func (s *ReviewStore) Checkpoint(outletID uuid.UUID) (*time.Time, error) {
	var cp models.FetchCheckpoint
	err := s.db.Where("outlet_id = ?", outletID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp.LastFetchedAt, nil
}

// SaveCheckpoint records a successful fetch. Only called after the platform
// call succeeded, so a failed fetch is retried from the previous mark.
func (s *ReviewStore) SaveCheckpoint(outletID uuid.UUID, at time.Time) error {
	var cp models.FetchCheckpoint
	err := s.db.Where("outlet_id = ?", outletID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cp = models.FetchCheckpoint{OutletID: outletID, LastFetchedAt: at}
		return s.db.Create(&cp).Error
	}
	if err != nil {
		return err
	}
	cp.LastFetchedAt = at
	return s.db.Save(&cp).Error
}
