package entity

import (
	"time"

	"gorm.io/datatypes"
)

// WorkOrder 生产工单
type WorkOrder struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	Number      string     `json:"number" gorm:"size:32;not null;uniqueIndex"`
	PartID      string     `json:"part_id" gorm:"size:36;not null;index"`
	Quantity    int        `json:"quantity" gorm:"not null"`
	Status      string     `json:"status" gorm:"size:16;not null;default:CREATED"`
	Priority    int        `json:"priority" gorm:"not null;default:0"`
	DueDate     *time.Time `json:"due_date"`
	Notes       string     `json:"notes" gorm:"type:text"`
	CreatedBy   string     `json:"created_by" gorm:"size:36;not null"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at" gorm:"index"`

	// 关联
	Part    *Part             `json:"part,omitempty" gorm:"foreignKey:PartID"`
	Routing *WorkOrderRouting `json:"routing,omitempty" gorm:"foreignKey:WorkOrderID"`
}

func (WorkOrder) TableName() string {
	return "work_orders"
}

// WorkOrderRouting 工单工艺路线（每个工单一条）
type WorkOrderRouting struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderID string    `json:"work_order_id" gorm:"size:36;not null;uniqueIndex"`
	RoutingID   string    `json:"routing_id" gorm:"size:36"` // 来源工艺模板
	Version     int       `json:"version" gorm:"not null;default:1"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// 关联
	Operations []WorkOrderOperation `json:"operations,omitempty" gorm:"foreignKey:RoutingID"`
}

func (WorkOrderRouting) TableName() string {
	return "work_order_routings"
}

// WorkOrderOperation 工单工序
type WorkOrderOperation struct {
	ID                  string     `json:"id" gorm:"primaryKey;size:36"`
	RoutingID           string     `json:"routing_id" gorm:"size:36;not null;index"`
	WorkOrderID         string     `json:"work_order_id" gorm:"size:36;not null;index"`
	Sequence            int        `json:"sequence" gorm:"not null"`
	Code                string     `json:"code" gorm:"size:32"`
	Name                string     `json:"name" gorm:"size:128;not null"`
	WorkCenterID        string     `json:"work_center_id" gorm:"size:36;not null;index"`
	Status              string     `json:"status" gorm:"size:16;not null;default:PENDING;index"`
	Priority            int        `json:"priority" gorm:"not null;default:0"`
	AssignedUserID      *string    `json:"assigned_user_id" gorm:"size:36;index"`
	PlannedSetupMinutes int        `json:"planned_setup_minutes" gorm:"not null;default:0"`
	PlannedRunMinutes   int        `json:"planned_run_minutes" gorm:"not null;default:0"`
	PlannedQty          int        `json:"planned_qty" gorm:"not null;default:0"`
	CompletedQty        int        `json:"completed_qty" gorm:"not null;default:0"`
	ScrappedQty         int        `json:"scrapped_qty" gorm:"not null;default:0"`
	StartedAt           *time.Time `json:"started_at"`
	StartedBy           *string    `json:"started_by" gorm:"size:36"`
	CompletedAt         *time.Time `json:"completed_at"`
	CompletedBy         *string    `json:"completed_by" gorm:"size:36"`
	Notes               string     `json:"notes" gorm:"type:text"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	// 关联
	WorkCenter *WorkCenter         `json:"work_center,omitempty" gorm:"foreignKey:WorkCenterID"`
	Assignee   *User               `json:"assignee,omitempty" gorm:"foreignKey:AssignedUserID"`
	Readiness  *OperationReadiness `json:"readiness,omitempty" gorm:"foreignKey:OperationID"`
}

func (WorkOrderOperation) TableName() string {
	return "work_order_operations"
}

// OperationDependency 工序显式依赖: OperationID 依赖 DependsOnID
type OperationDependency struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	OperationID    string    `json:"operation_id" gorm:"size:36;not null;uniqueIndex:idx_op_dep"`
	DependsOnID    string    `json:"depends_on_id" gorm:"size:36;not null;uniqueIndex:idx_op_dep"`
	DependencyType string    `json:"dependency_type" gorm:"size:4;not null;default:FS"`
	LagMinutes     int       `json:"lag_minutes" gorm:"not null;default:0"`
	CreatedBy      string    `json:"created_by" gorm:"size:36"`
	CreatedAt      time.Time `json:"created_at"`
}

func (OperationDependency) TableName() string {
	return "operation_dependencies"
}

// OperationReadiness 工序就绪记录（每道工序一条）
type OperationReadiness struct {
	OperationID          string                      `json:"operation_id" gorm:"primaryKey;size:36"`
	IsReady              bool                        `json:"is_ready" gorm:"not null;default:false;index"`
	CanDispatch          bool                        `json:"can_dispatch" gorm:"not null;default:false"`
	BlockedReasons       datatypes.JSONSlice[string] `json:"blocked_reasons"`
	EstimatedWaitMinutes int                         `json:"estimated_wait_minutes" gorm:"not null;default:0"`
	LastCalculated       time.Time                   `json:"last_calculated"`
}

func (OperationReadiness) TableName() string {
	return "operation_readiness"
}

// OperationActionLog 工序操作记录
type OperationActionLog struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	OperationID string    `json:"operation_id" gorm:"size:36;not null;index"`
	WorkOrderID string    `json:"work_order_id" gorm:"size:36;not null;index"`
	UserID      string    `json:"user_id" gorm:"size:36;not null"`
	Action      string    `json:"action" gorm:"size:32;not null"`
	FromStatus  string    `json:"from_status" gorm:"size:16"`
	ToStatus    string    `json:"to_status" gorm:"size:16"`
	Overridden  bool      `json:"overridden" gorm:"not null;default:false"`
	Notes       string    `json:"notes" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (OperationActionLog) TableName() string {
	return "operation_action_logs"
}

// 操作记录类型
const (
	ActionStatusChange = "status_change"
	ActionAssign       = "assign"
	ActionQuantity     = "quantity"
)
