package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// OperationRepository 工单工序仓库
type OperationRepository struct {
	db *gorm.DB
}

// NewOperationRepository 创建工序仓库
func NewOperationRepository(db *gorm.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// FindByID 根据ID查找工序
func (r *OperationRepository) FindByID(ctx context.Context, id string) (*entity.WorkOrderOperation, error) {
	var op entity.WorkOrderOperation
	err := r.db.WithContext(ctx).
		Preload("WorkCenter").
		Preload("Assignee").
		Preload("Readiness").
		Where("id = ?", id).
		First(&op).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &op, nil
}

// ListByRouting 获取路线下的全部工序
func (r *OperationRepository) ListByRouting(ctx context.Context, routingID string) ([]entity.WorkOrderOperation, error) {
	var ops []entity.WorkOrderOperation
	err := r.db.WithContext(ctx).
		Where("routing_id = ?", routingID).
		Order("sequence ASC, id ASC").
		Find(&ops).Error
	return ops, err
}

// ListByWorkCenter 获取工作中心的工序（已删除工单除外）
func (r *OperationRepository) ListByWorkCenter(ctx context.Context, workCenterID string, statuses []string) ([]entity.WorkOrderOperation, error) {
	var ops []entity.WorkOrderOperation
	query := r.db.WithContext(ctx).
		Joins("JOIN work_orders ON work_orders.id = work_order_operations.work_order_id AND work_orders.deleted_at IS NULL").
		Where("work_order_operations.work_center_id = ?", workCenterID)
	if len(statuses) > 0 {
		query = query.Where("work_order_operations.status IN ?", statuses)
	}
	err := query.
		Preload("Assignee").
		Preload("Readiness").
		Order("work_order_operations.priority DESC, work_orders.due_date ASC, work_order_operations.sequence ASC").
		Find(&ops).Error
	return ops, err
}

// UpdateFields 更新工序字段
func (r *OperationRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&entity.WorkOrderOperation{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDependencies 获取工序的显式依赖
func (r *OperationRepository) ListDependencies(ctx context.Context, operationID string) ([]entity.OperationDependency, error) {
	var deps []entity.OperationDependency
	err := r.db.WithContext(ctx).
		Where("operation_id = ?", operationID).
		Order("created_at ASC").
		Find(&deps).Error
	return deps, err
}

// CreateDependency 创建工序依赖
func (r *OperationRepository) CreateDependency(ctx context.Context, dep *entity.OperationDependency) error {
	return r.db.WithContext(ctx).Create(dep).Error
}

// DistinctAssignees 工作中心上有进行中或待开工工序的操作员
func (r *OperationRepository) DistinctAssignees(ctx context.Context, workCenterID string, statuses []string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.WorkOrderOperation{}).
		Where("work_center_id = ? AND assigned_user_id IS NOT NULL AND status IN ?", workCenterID, statuses).
		Distinct().
		Pluck("assigned_user_id", &ids).Error
	return ids, err
}
