package entity

import (
	"time"
)

// WorkCenter 工作中心
type WorkCenter struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	Code        string     `json:"code" gorm:"size:32;not null;uniqueIndex"`
	Name        string     `json:"name" gorm:"size:128;not null"`
	Description string     `json:"description" gorm:"type:text"`
	Capacity    int        `json:"capacity" gorm:"not null;default:1"`
	Status      string     `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at" gorm:"index"`
}

func (WorkCenter) TableName() string {
	return "work_centers"
}

// WorkCenterQueueEntry 工作中心排队记录
type WorkCenterQueueEntry struct {
	ID                   string    `json:"id" gorm:"primaryKey;size:36"`
	WorkCenterID         string    `json:"work_center_id" gorm:"size:36;not null;index"`
	OperationID          string    `json:"operation_id" gorm:"size:36;not null;uniqueIndex"`
	Position             int       `json:"position" gorm:"not null"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes" gorm:"not null;default:0"`
	CreatedAt            time.Time `json:"created_at"`

	Operation *WorkOrderOperation `json:"operation,omitempty" gorm:"foreignKey:OperationID"`
}

func (WorkCenterQueueEntry) TableName() string {
	return "work_center_queue_entries"
}
