package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Manual queue entry status values. RESPONDED and ESCALATED are terminal.
const (
	QueueStatusPending   = "PENDING"
	QueueStatusResponded = "RESPONDED"
	QueueStatusEscalated = "ESCALATED"
)

// ManualQueueEntry tracks a critical review awaiting a human reply. Exactly
// one entry exists per review; reminders advance ReminderCount until the
// entry is responded to or escalates.
type ManualQueueEntry struct {
	ID              uuid.UUID  `gorm:"type:uuid;primary_key"`
	ReviewID        uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null"`
	OutletID        uuid.UUID  `gorm:"type:uuid;index;not null"`
	AssignedAdminID *uuid.UUID `gorm:"type:uuid;index"`
	ReminderCount   int        `gorm:"default:0"`
	NextReminderAt  *time.Time `gorm:"index"`
	Status          string     `gorm:"type:varchar(20);default:'PENDING';index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *ManualQueueEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
