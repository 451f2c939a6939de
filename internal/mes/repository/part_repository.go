package repository

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// PartRepository 零件与工艺模板仓库
type PartRepository struct {
	db *gorm.DB
}

// NewPartRepository 创建零件仓库
func NewPartRepository(db *gorm.DB) *PartRepository {
	return &PartRepository{db: db}
}

// FindByID 根据ID查找零件
func (r *PartRepository) FindByID(ctx context.Context, id string) (*entity.Part, error) {
	var part entity.Part
	if err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&part).Error; err != nil {
		return nil, notFound(err)
	}
	return &part, nil
}

// Create 创建零件
func (r *PartRepository) Create(ctx context.Context, part *entity.Part) error {
	return r.db.WithContext(ctx).Create(part).Error
}

// ActiveRouting 零件当前生效的工艺路线（含步骤）
func (r *PartRepository) ActiveRouting(ctx context.Context, partID string) (*entity.Routing, error) {
	var rt entity.Routing
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where("part_id = ? AND is_active = ?", partID, true).
		Order("created_at DESC").
		First(&rt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}

// ReplaceActiveRouting 停用旧路线并创建新的生效路线
func (r *PartRepository) ReplaceActiveRouting(ctx context.Context, rt *entity.Routing) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entity.Routing{}).
			Where("part_id = ? AND is_active = ?", rt.PartID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("停用旧工艺路线失败: %w", err)
		}
		rt.IsActive = true
		if err := tx.Create(rt).Error; err != nil {
			return fmt.Errorf("创建工艺路线失败: %w", err)
		}
		return nil
	})
}
