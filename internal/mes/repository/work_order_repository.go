package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// WorkOrderRepository 工单仓库
type WorkOrderRepository struct {
	db *gorm.DB
}

// NewWorkOrderRepository 创建工单仓库
func NewWorkOrderRepository(db *gorm.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// FindByID 根据ID查找工单（不含已删除）
func (r *WorkOrderRepository) FindByID(ctx context.Context, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := r.db.WithContext(ctx).
		Preload("Part").
		Preload("Routing").
		Preload("Routing.Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Preload("Routing.Operations.Readiness").
		Where("id = ? AND deleted_at IS NULL", id).
		First(&wo).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &wo, nil
}

// WorkOrderFilter 工单查询条件
type WorkOrderFilter struct {
	Status  string
	PartID  string
	Keyword string
}

// List 分页查询工单
func (r *WorkOrderRepository) List(ctx context.Context, filter WorkOrderFilter, page, pageSize int) ([]entity.WorkOrder, int64, error) {
	var (
		orders []entity.WorkOrder
		total  int64
	)
	query := r.db.WithContext(ctx).Model(&entity.WorkOrder{}).Where("deleted_at IS NULL")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PartID != "" {
		query = query.Where("part_id = ?", filter.PartID)
	}
	if filter.Keyword != "" {
		query = query.Where("number LIKE ?", "%"+filter.Keyword+"%")
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	err := query.
		Preload("Part").
		Order("priority DESC, due_date ASC, created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

// NextNumber 生成下一个工单号 WO-000001
func (r *WorkOrderRepository) NextNumber(ctx context.Context) (string, error) {
	return nextNumber(r.db.WithContext(ctx))
}

func nextNumber(db *gorm.DB) (string, error) {
	var last entity.WorkOrder
	err := db.Select("number").Where("number LIKE ?", "WO-%").Order("number DESC").First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("查找最大工单号失败: %w", err)
	}
	seq := 0
	if last.Number != "" {
		seq, _ = strconv.Atoi(strings.TrimPrefix(last.Number, "WO-"))
	}
	return fmt.Sprintf("WO-%06d", seq+1), nil
}

// CreateWithRouting 在一个事务中创建工单、工单路线、工序及初始就绪记录
func (r *WorkOrderRepository) CreateWithRouting(ctx context.Context, wo *entity.WorkOrder, rt *entity.WorkOrderRouting, ops []entity.WorkOrderOperation, readiness []entity.OperationReadiness) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if wo.Number == "" {
			number, err := nextNumber(tx)
			if err != nil {
				return err
			}
			wo.Number = number
		}
		if err := tx.Create(wo).Error; err != nil {
			return fmt.Errorf("创建工单失败: %w", err)
		}
		if err := tx.Create(rt).Error; err != nil {
			return fmt.Errorf("创建工单路线失败: %w", err)
		}
		if len(ops) > 0 {
			if err := tx.Create(&ops).Error; err != nil {
				return fmt.Errorf("创建工序失败: %w", err)
			}
		}
		if len(readiness) > 0 {
			if err := tx.Create(&readiness).Error; err != nil {
				return fmt.Errorf("创建就绪记录失败: %w", err)
			}
		}
		return nil
	})
}

// SoftDelete 软删除工单，其工序随之成为孤立工序
func (r *WorkOrderRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&entity.WorkOrder{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{"deleted_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRouting 查找工单路线
func (r *WorkOrderRepository) FindRouting(ctx context.Context, workOrderID string) (*entity.WorkOrderRouting, error) {
	var rt entity.WorkOrderRouting
	if err := r.db.WithContext(ctx).Where("work_order_id = ?", workOrderID).First(&rt).Error; err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}
