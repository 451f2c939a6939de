package repository

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"gorm.io/gorm"
)

// WorkCenterRepository 工作中心仓库
type WorkCenterRepository struct {
	db *gorm.DB
}

// NewWorkCenterRepository 创建工作中心仓库
func NewWorkCenterRepository(db *gorm.DB) *WorkCenterRepository {
	return &WorkCenterRepository{db: db}
}

// FindByID 根据ID查找工作中心
func (r *WorkCenterRepository) FindByID(ctx context.Context, id string) (*entity.WorkCenter, error) {
	var wc entity.WorkCenter
	if err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&wc).Error; err != nil {
		return nil, notFound(err)
	}
	return &wc, nil
}

// FindByCode 根据编码查找工作中心
func (r *WorkCenterRepository) FindByCode(ctx context.Context, code string) (*entity.WorkCenter, error) {
	var wc entity.WorkCenter
	if err := r.db.WithContext(ctx).Where("code = ? AND deleted_at IS NULL", code).First(&wc).Error; err != nil {
		return nil, notFound(err)
	}
	return &wc, nil
}

// Create 创建工作中心
func (r *WorkCenterRepository) Create(ctx context.Context, wc *entity.WorkCenter) error {
	return r.db.WithContext(ctx).Create(wc).Error
}

// Load 工作中心负载
func (r *WorkCenterRepository) Load(ctx context.Context, workCenterID, excludeOperationID string) (routing.Load, error) {
	return workCenterLoad(r.db.WithContext(ctx), workCenterID, excludeOperationID)
}

// ReplaceQueue 用新的排队记录替换工作中心的队列
func (r *WorkCenterRepository) ReplaceQueue(ctx context.Context, workCenterID string, entries []entity.WorkCenterQueueEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("work_center_id = ?", workCenterID).Delete(&entity.WorkCenterQueueEntry{}).Error; err != nil {
			return fmt.Errorf("清空队列失败: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("写入队列失败: %w", err)
		}
		return nil
	})
}

// ListQueue 获取工作中心队列
func (r *WorkCenterRepository) ListQueue(ctx context.Context, workCenterID string) ([]entity.WorkCenterQueueEntry, error) {
	var entries []entity.WorkCenterQueueEntry
	err := r.db.WithContext(ctx).
		Preload("Operation").
		Where("work_center_id = ?", workCenterID).
		Order("position ASC").
		Find(&entries).Error
	return entries, err
}
