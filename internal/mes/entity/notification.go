package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Notification 站内通知
type Notification struct {
	ID        string            `json:"id" gorm:"primaryKey;size:36"`
	UserID    string            `json:"user_id" gorm:"size:36;not null;index"`
	Type      string            `json:"type" gorm:"size:32;not null"`
	Title     string            `json:"title" gorm:"size:256;not null"`
	Message   string            `json:"message" gorm:"type:text"`
	Data      datatypes.JSONMap `json:"data"`
	ReadAt    *time.Time        `json:"read_at"`
	CreatedAt time.Time         `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

const (
	NotificationOperationReady = "OPERATION_READY"
)
