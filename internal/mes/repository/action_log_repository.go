package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// ActionLogRepository 工序操作记录仓库
type ActionLogRepository struct {
	db *gorm.DB
}

// NewActionLogRepository 创建操作记录仓库
func NewActionLogRepository(db *gorm.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Create 创建操作记录
func (r *ActionLogRepository) Create(ctx context.Context, log *entity.OperationActionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListByOperation 获取工序的操作记录
func (r *ActionLogRepository) ListByOperation(ctx context.Context, operationID string) ([]entity.OperationActionLog, error) {
	var logs []entity.OperationActionLog
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("operation_id = ?", operationID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
