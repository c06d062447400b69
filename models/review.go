package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Review status values. A review moves PENDING -> AUTO_REPLIED -> CLOSED on
// the positive path and PENDING -> MANUAL_PENDING -> ESCALATED on the
// critical path. COMPLETED marks a review answered by a human.
const (
	ReviewStatusPending       = "PENDING"
	ReviewStatusAutoReplied   = "AUTO_REPLIED"
	ReviewStatusManualPending = "MANUAL_PENDING"
	ReviewStatusClosed        = "CLOSED"
	ReviewStatusEscalated     = "ESCALATED"
	ReviewStatusCompleted     = "COMPLETED"
)

type Review struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key"`
	OutletID uuid.UUID `gorm:"type:uuid;not null;index:idx_review_tuple,priority:1"`

	// Identifier assigned by the review platform. Unique when present; reviews
	// ingested without one fall back to tuple matching for idempotency.
	ExternalReviewID *string `gorm:"uniqueIndex"`

	Rating          int    `gorm:"not null;index:idx_review_tuple,priority:3"`
	CustomerName    string `gorm:"index:idx_review_tuple,priority:2"`
	ReviewText      string `gorm:"type:text"`
	AIReplyText     *string
	ManualReplyText *string
	Status          string `gorm:"type:varchar(20);default:'PENDING';index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Review) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}
