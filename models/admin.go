package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// AdminUser is the staff directory the automation core resolves notification
// recipients from: reminder targets by id, and the super-admin fan-out on
// escalation. Account management lives elsewhere; the core only reads rows.
type AdminUser struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key"`
	Name     string    `gorm:"not null"`
	Phone    string
	Role     string `gorm:"type:varchar(20);default:'admin';index"`
	IsActive bool   `gorm:"default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *AdminUser) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}
