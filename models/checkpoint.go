package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FetchCheckpoint is the per-outlet low-water mark for review ingestion. The
// next fetch only keeps reviews updated strictly after LastFetchedAt. A
// missing row means the outlet has never been fetched and gets the full set.
type FetchCheckpoint struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	OutletID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	LastFetchedAt time.Time `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *FetchCheckpoint) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}
