package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification delivery lifecycle. A row is written as "pending" before the
// send call so a crash between commit and delivery is recoverable by the
// reconciliation sweep; it moves to "sent" or "failed" afterwards.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"

	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
)

// Notification template identifiers.
const (
	TemplateCriticalAlert   = "critical_alert"
	TemplateReminder        = "reminder"
	TemplateEscalation      = "escalation"
	TemplateAutoReplyNotice = "auto_reply_notice"
)

type NotificationLog struct {
	ID       uuid.UUID  `gorm:"type:uuid;primary_key"`
	OutletID uuid.UUID  `gorm:"type:uuid;index"`
	ReviewID *uuid.UUID `gorm:"type:uuid;index"`

	Recipient    string `gorm:"not null"`
	Template     string `gorm:"type:varchar(40);not null"`
	Params       JSONB  `gorm:"type:jsonb;default:'{}'"`
	Channel      string `gorm:"type:varchar(20)"`
	Status       string `gorm:"type:varchar(20);default:'pending';index"`
	ErrorMessage string `gorm:"type:text"`
	SentAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *NotificationLog) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return
}

// JSONB stores arbitrary template parameters as a JSON column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	case nil:
		*j = nil
		return nil
	default:
		return errors.New("unsupported type for JSONB scan")
	}
}
