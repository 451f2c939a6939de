package entity

import "gorm.io/gorm"

// Models 所有需要迁移的实体
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Role{},
		&Permission{},
		&Part{},
		&Routing{},
		&RoutingStep{},
		&WorkCenter{},
		&WorkOrder{},
		&WorkOrderRouting{},
		&WorkOrderOperation{},
		&OperationDependency{},
		&OperationReadiness{},
		&OperationActionLog{},
		&WorkCenterQueueEntry{},
		&Notification{},
	}
}

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
