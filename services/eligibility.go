package services

import (
	"context"
	"errors"

	"reviewpilot-backend/logging"
	"reviewpilot-backend/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EligibleOutlet is the read-only outlet snapshot the automation cycle works
// from, so a mid-cycle edit to the outlet row cannot change behavior halfway
// through.
type EligibleOutlet struct {
	ID                 uuid.UUID
	Name               string
	GoogleLocationName string
	OwnerRefreshToken  string
	OwnerPhone         string
}

// EligibilityService decides which outlets the automation touches and
// resolves notification recipients.
type EligibilityService struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewEligibilityService(db *gorm.DB) *EligibilityService {
	return &EligibilityService{db: db, log: logging.Component("eligibility")}
}

func snapshotOutlet(o *models.Outlet) EligibleOutlet {
	return EligibleOutlet{
		ID:                 o.ID,
		Name:               o.Name,
		GoogleLocationName: o.GoogleLocationName,
		OwnerRefreshToken:  o.OwnerRefreshToken,
		OwnerPhone:         o.OwnerPhone,
	}
}

// ListEligibleOutlets returns outlets the cycle polls: platform connected,
// subscription active or trialing, onboarding finished.
func (s *EligibilityService) ListEligibleOutlets(ctx context.Context) ([]EligibleOutlet, error) {
	var outlets []models.Outlet
	err := s.db.WithContext(ctx).
		Where("api_status = ? AND subscription_status IN ? AND onboarding_status = ?",
			models.APIStatusConnected,
			[]string{models.SubscriptionActive, models.SubscriptionTrial},
			models.OnboardingCompleted).
		Find(&outlets).Error
	if err != nil {
		return nil, err
	}
	eligible := make([]EligibleOutlet, 0, len(outlets))
	for i := range outlets {
		eligible = append(eligible, snapshotOutlet(&outlets[i]))
	}
	return eligible, nil
}

// Outlet returns the snapshot for one outlet regardless of eligibility.
// Reminders and escalations keep flowing even after an outlet disconnects
// its platform account. Returns (nil, nil) when the outlet is gone.
func (s *EligibilityService) Outlet(ctx context.Context, outletID uuid.UUID) (*EligibleOutlet, error) {
	var outlet models.Outlet
	err := s.db.WithContext(ctx).First(&outlet, "id = ?", outletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := snapshotOutlet(&outlet)
	return &snap, nil
}

// EligibleOutletByID is Outlet with the eligibility filter applied; used by
// reconciliation so stuck reviews of a lapsed outlet are left alone.
func (s *EligibilityService) EligibleOutletByID(ctx context.Context, outletID uuid.UUID) (*EligibleOutlet, error) {
	var outlet models.Outlet
	err := s.db.WithContext(ctx).
		Where("id = ? AND api_status = ? AND subscription_status IN ? AND onboarding_status = ?",
			outletID,
			models.APIStatusConnected,
			[]string{models.SubscriptionActive, models.SubscriptionTrial},
			models.OnboardingCompleted).
		First(&outlet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := snapshotOutlet(&outlet)
	return &snap, nil
}

// AdminPhone returns the phone of an active admin, or "" when the admin is
// missing, deactivated or has no number on file.
func (s *EligibilityService) AdminPhone(ctx context.Context, adminID uuid.UUID) (string, error) {
	var admin models.AdminUser
	err := s.db.WithContext(ctx).First(&admin, "id = ?", adminID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !admin.IsActive || admin.Phone == "" {
		return "", nil
	}
	return admin.Phone, nil
}

// SuperAdminPhones returns the escalation fan-out list: every active
// super-admin with a phone number.
func (s *EligibilityService) SuperAdminPhones(ctx context.Context) ([]string, error) {
	var admins []models.AdminUser
	err := s.db.WithContext(ctx).
		Where("role = ? AND is_active = ? AND phone <> ''", models.RoleSuperAdmin, true).
		Find(&admins).Error
	if err != nil {
		return nil, err
	}
	phones := make([]string, 0, len(admins))
	for _, a := range admins {
		phones = append(phones, a.Phone)
	}
	return phones, nil
}
