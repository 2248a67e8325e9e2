// models/notification_log.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type NotificationLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key"`
	RecordID     uuid.UUID `gorm:"type:uuid;index;not null"`
	BikeNumber   string    `gorm:"type:varchar(32);index"`
	Phone        string    `gorm:"type:varchar(20)"`
	Message      string    `gorm:"type:text"`
	Status       string    `gorm:"type:varchar(20)"` // sent, failed
	ErrorMessage string    `gorm:"type:text"`
	Channel      string    `gorm:"type:varchar(20)"` // sms, log
	ProviderRef  string    `gorm:"type:varchar(64)"`
	SentAt       time.Time
	CreatedAt    time.Time
}

func (n *NotificationLog) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return
}
