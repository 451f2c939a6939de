package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	WorkOrder    *WorkOrderRepository
	Operation    *OperationRepository
	Readiness    *ReadinessRepository
	WorkCenter   *WorkCenterRepository
	Part         *PartRepository
	User         *UserRepository
	Notification *NotificationRepository
	ActionLog    *ActionLogRepository
	// 工序状态事务边界
	Store *RoutingStore
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		WorkOrder:    NewWorkOrderRepository(db),
		Operation:    NewOperationRepository(db),
		Readiness:    NewReadinessRepository(db),
		WorkCenter:   NewWorkCenterRepository(db),
		Part:         NewPartRepository(db),
		User:         NewUserRepository(db),
		Notification: NewNotificationRepository(db),
		ActionLog:    NewActionLogRepository(db),
		Store:        NewRoutingStore(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
