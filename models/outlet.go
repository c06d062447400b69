package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outlet connection and subscription status values used by eligibility
// filtering. The rows themselves are owned by the onboarding/billing side of
// the product; the automation core only reads them.
const (
	APIStatusConnected    = "connected"
	APIStatusDisconnected = "disconnected"
	APIStatusError        = "error"

	SubscriptionActive    = "active"
	SubscriptionTrial     = "trial"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"

	OnboardingCompleted = "completed"
	OnboardingPending   = "pending"
)

type Outlet struct {
	ID   uuid.UUID `gorm:"type:uuid;primary_key"`
	Name string    `gorm:"not null"`

	// Location resource on the review platform, e.g.
	// "accounts/1065/locations/118".
	GoogleLocationName string

	APIStatus          string `gorm:"type:varchar(20);default:'disconnected';index"`
	SubscriptionStatus string `gorm:"type:varchar(20);default:'trial';index"`
	OnboardingStatus   string `gorm:"type:varchar(20);default:'pending'"`

	// Owner credential and notification target, denormalized here so the
	// automation core never touches the user tables.
	OwnerRefreshToken string `gorm:"type:text"`
	OwnerPhone        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Outlet) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return
}
