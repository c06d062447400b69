package services

import (
	"errors"
	"time"

	"reviewpilot-backend/config"
	"reviewpilot-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrEntryNotPending is returned when a reminder update hits an entry that
// already reached a terminal queue status.
var ErrEntryNotPending = errors.New("queue entry is not pending")

// ManualQueueStore owns the manual-response queue and its reminder ladder.
type ManualQueueStore struct {
	db  *gorm.DB
	cfg config.AutomationConfig
}

func NewManualQueueStore(db *gorm.DB, cfg config.AutomationConfig) *ManualQueueStore {
	return &ManualQueueStore{db: db, cfg: cfg}
}

func (s *ManualQueueStore) WithTx(tx *gorm.DB) *ManualQueueStore {
	return &ManualQueueStore{db: tx, cfg: s.cfg}
}

// AddToQueue enqueues a review for manual response with the first reminder
// scheduled one step out. A review is queued at most once; re-adding returns
// the existing entry untouched.
func (s *ManualQueueStore) AddToQueue(reviewID, outletID uuid.UUID) (*models.ManualQueueEntry, error) {
	existing, err := s.FindByReviewID(reviewID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	next := time.Now().Add(s.cfg.FirstReminderDelay())
	entry := models.ManualQueueEntry{
		ReviewID:       reviewID,
		OutletID:       outletID,
		ReminderCount:  0,
		NextReminderAt: &next,
		Status:         models.QueueStatusPending,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *ManualQueueStore) FindByReviewID(reviewID uuid.UUID) (*models.ManualQueueEntry, error) {
	var entry models.ManualQueueEntry
	err := s.db.First(&entry, "review_id = ?", reviewID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetPendingReminders returns pending entries whose reminder is due at now,
// oldest deadline first. Terminal entries never match, whatever their
// next_reminder_at still holds.
func (s *ManualQueueStore) GetPendingReminders(now time.Time) ([]models.ManualQueueEntry, error) {
	var entries []models.ManualQueueEntry
	err := s.db.Where("status = ? AND next_reminder_at IS NOT NULL AND next_reminder_at <= ?",
		models.QueueStatusPending, now).
		Order("next_reminder_at asc").Find(&entries).Error
	return entries, err
}

// ListPending returns open queue entries, oldest first, for the ops API.
func (s *ManualQueueStore) ListPending(limit int) ([]models.ManualQueueEntry, error) {
	var entries []models.ManualQueueEntry
	err := s.db.Where("status = ?", models.QueueStatusPending).
		Order("created_at asc").Limit(limit).Find(&entries).Error
	return entries, err
}

// UpdateReminderSent advances the reminder ladder after a reminder attempt
// was consumed: bump the count, then either schedule the next reminder or
// flip the entry to ESCALATED once the count reaches the configured maximum.
func (s *ManualQueueStore) UpdateReminderSent(entryID uuid.UUID, now time.Time) (*models.ManualQueueEntry, error) {
	var entry models.ManualQueueEntry
	if err := s.db.First(&entry, "id = ?", entryID).Error; err != nil {
		return nil, err
	}
	if entry.Status != models.QueueStatusPending {
		return &entry, ErrEntryNotPending
	}
	entry.ReminderCount++
	if entry.ReminderCount >= s.cfg.MaxReminders {
		entry.Status = models.QueueStatusEscalated
		entry.NextReminderAt = nil
	} else {
		next := now.Add(s.cfg.ReminderDelay(entry.ReminderCount))
		entry.NextReminderAt = &next
	}
	if err := s.db.Save(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkAsResponded closes the entry after a human replied. Entries already in
// a terminal status are left as they are.
func (s *ManualQueueStore) MarkAsResponded(entryID uuid.UUID) (*models.ManualQueueEntry, error) {
	var entry models.ManualQueueEntry
	if err := s.db.First(&entry, "id = ?", entryID).Error; err != nil {
		return nil, err
	}
	if entry.Status != models.QueueStatusPending {
		return &entry, nil
	}
	entry.Status = models.QueueStatusResponded
	entry.NextReminderAt = nil
	if err := s.db.Save(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}
