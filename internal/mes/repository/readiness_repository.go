package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// ReadinessRepository 工序就绪记录仓库
type ReadinessRepository struct {
	db *gorm.DB
}

// NewReadinessRepository 创建就绪记录仓库
func NewReadinessRepository(db *gorm.DB) *ReadinessRepository {
	return &ReadinessRepository{db: db}
}

// FindByOperation 查找工序就绪记录
func (r *ReadinessRepository) FindByOperation(ctx context.Context, operationID string) (*entity.OperationReadiness, error) {
	var rec entity.OperationReadiness
	if err := r.db.WithContext(ctx).Where("operation_id = ?", operationID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// ListByWorkOrder 获取工单全部工序的就绪记录
func (r *ReadinessRepository) ListByWorkOrder(ctx context.Context, workOrderID string) ([]entity.OperationReadiness, error) {
	var recs []entity.OperationReadiness
	err := r.db.WithContext(ctx).
		Joins("JOIN work_order_operations ON work_order_operations.id = operation_readiness.operation_id").
		Where("work_order_operations.work_order_id = ?", workOrderID).
		Find(&recs).Error
	return recs, err
}
