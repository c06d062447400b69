package services

import (
	"testing"
	"time"

	"reviewpilot-backend/config"
	"reviewpilot-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Outlet{},
		&models.AdminUser{},
		&models.Review{},
		&models.ReviewWorkflow{},
		&models.ManualQueueEntry{},
		&models.FetchCheckpoint{},
		&models.NotificationLog{},
	)
	require.NoError(t, err)
	return db
}

func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		Enabled:      true,
		PollInterval: 15 * time.Minute,
		MaxReminders: 5,
		ReminderSchedule: []time.Duration{
			15 * time.Minute,
			2 * time.Hour,
			6 * time.Hour,
			12 * time.Hour,
			24 * time.Hour,
		},
		NotifyRPM:   600,
		NotifyBurst: 100,
	}
}

func seedOutlet(t *testing.T, db *gorm.DB) *models.Outlet {
	t.Helper()
	outlet := &models.Outlet{
		Name:               "Corner Bistro",
		GoogleLocationName: "accounts/1065/locations/118",
		APIStatus:          models.APIStatusConnected,
		SubscriptionStatus: models.SubscriptionActive,
		OnboardingStatus:   models.OnboardingCompleted,
		OwnerRefreshToken:  "refresh-token-1",
		OwnerPhone:         "+14155550100",
	}
	require.NoError(t, db.Create(outlet).Error)
	return outlet
}

func seedSuperAdmin(t *testing.T, db *gorm.DB, phone string) *models.AdminUser {
	t.Helper()
	admin := &models.AdminUser{
		Name:     "Ops Lead",
		Phone:    phone,
		Role:     models.RoleSuperAdmin,
		IsActive: true,
	}
	require.NoError(t, db.Create(admin).Error)
	return admin
}

// seedQueuedReview creates a critical review with its workflow and queue
// entry, as classification would, then pins the queue entry's reminder state.
func seedQueuedReview(t *testing.T, db *gorm.DB, outletID uuid.UUID, reminderCount int, nextAt *time.Time) (*models.Review, *models.ManualQueueEntry) {
	t.Helper()

	extID := uuid.NewString()
	review := &models.Review{
		OutletID:         outletID,
		ExternalReviewID: &extID,
		Rating:           2,
		CustomerName:     "Dana",
		ReviewText:       "Cold food, long wait.",
		Status:           models.ReviewStatusManualPending,
	}
	require.NoError(t, db.Create(review).Error)
	require.NoError(t, db.Create(&models.ReviewWorkflow{
		ReviewID:      review.ID,
		CurrentState:  models.StateManualPending,
		ReminderCount: reminderCount,
		LastActionAt:  time.Now(),
	}).Error)

	entry := &models.ManualQueueEntry{
		ReviewID:       review.ID,
		OutletID:       outletID,
		ReminderCount:  reminderCount,
		NextReminderAt: nextAt,
		Status:         models.QueueStatusPending,
	}
	require.NoError(t, db.Create(entry).Error)
	return review, entry
}

func timePtr(t time.Time) *time.Time {
	return &t
}
