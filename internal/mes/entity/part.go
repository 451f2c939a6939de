package entity

import (
	"time"
)

// Part 零件（仅保留工单所需字段）
type Part struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	PartNumber  string     `json:"part_number" gorm:"size:64;not null;uniqueIndex"`
	Name        string     `json:"name" gorm:"size:128;not null"`
	Description string     `json:"description" gorm:"type:text"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at" gorm:"index"`
}

func (Part) TableName() string {
	return "parts"
}

// Routing 工艺路线模板
type Routing struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	PartID    string    `json:"part_id" gorm:"size:36;not null;index"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Revision  string    `json:"revision" gorm:"size:16;not null;default:A"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedBy string    `json:"created_by" gorm:"size:36"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Steps []RoutingStep `json:"steps,omitempty" gorm:"foreignKey:RoutingID"`
}

func (Routing) TableName() string {
	return "routings"
}

// RoutingStep 工艺步骤
type RoutingStep struct {
	ID              string  `json:"id" gorm:"primaryKey;size:36"`
	RoutingID       string  `json:"routing_id" gorm:"size:36;not null;index"`
	Sequence        int     `json:"sequence" gorm:"not null"`
	Code            string  `json:"code" gorm:"size:32"`
	Name            string  `json:"name" gorm:"size:128;not null"`
	WorkCenterID    string  `json:"work_center_id" gorm:"size:36;not null"`
	SetupMinutes    int     `json:"setup_minutes" gorm:"not null;default:0"`
	RunMinutes      float64 `json:"run_minutes" gorm:"not null;default:0"` // 单件加工时间
	DefaultAssignee *string `json:"default_assignee" gorm:"size:36"`
}

func (RoutingStep) TableName() string {
	return "routing_steps"
}
