package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoutingStore 基于 GORM 事务实现 routing.Store
type RoutingStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRoutingStore 创建工艺路线存储
func NewRoutingStore(db *gorm.DB) *RoutingStore {
	return &RoutingStore{db: db, now: time.Now}
}

// InTx 在一个数据库事务中执行 fn，fn 返回错误时回滚
func (s *RoutingStore) InTx(ctx context.Context, fn func(tx routing.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&routingTx{db: tx, now: s.now})
	})
}

type routingTx struct {
	db  *gorm.DB
	now func() time.Time
}

func (t *routingTx) Operation(id string) (routing.Operation, error) {
	var op entity.WorkOrderOperation
	if err := t.db.Where("id = ?", id).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return routing.Operation{}, routing.ErrOperationNotFound
		}
		return routing.Operation{}, fmt.Errorf("查找工序失败: %w", err)
	}
	return ToOperation(op), nil
}

// LockRouting 在 Postgres 上使用 SELECT ... FOR UPDATE 锁定路线行；
// SQLite 的写事务本身是串行的，不支持该子句。
func (t *routingTx) LockRouting(routingID string) (routing.Routing, error) {
	q := t.db
	if t.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var r entity.WorkOrderRouting
	if err := q.Where("id = ?", routingID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return routing.Routing{}, routing.ErrOrphanedOperation
		}
		return routing.Routing{}, fmt.Errorf("锁定工艺路线失败: %w", err)
	}

	var wo entity.WorkOrder
	if err := t.db.Where("id = ? AND deleted_at IS NULL", r.WorkOrderID).First(&wo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return routing.Routing{}, routing.ErrOrphanedOperation
		}
		return routing.Routing{}, fmt.Errorf("查找工单失败: %w", err)
	}

	var ops []entity.WorkOrderOperation
	if err := t.db.Where("routing_id = ?", r.ID).Order("sequence ASC, id ASC").Find(&ops).Error; err != nil {
		return routing.Routing{}, fmt.Errorf("查找工序失败: %w", err)
	}
	ids := make([]string, 0, len(ops))
	out := routing.Routing{
		ID:              r.ID,
		WorkOrderID:     r.WorkOrderID,
		WorkOrderStatus: routing.WorkOrderStatus(wo.Status),
		Version:         r.Version,
		Operations:      make([]routing.Operation, 0, len(ops)),
	}
	for _, op := range ops {
		ids = append(ids, op.ID)
		out.Operations = append(out.Operations, ToOperation(op))
	}
	if len(ids) == 0 {
		return out, nil
	}

	var deps []entity.OperationDependency
	if err := t.db.Where("operation_id IN ?", ids).Find(&deps).Error; err != nil {
		return routing.Routing{}, fmt.Errorf("查找工序依赖失败: %w", err)
	}
	for _, d := range deps {
		out.Dependencies = append(out.Dependencies, toDependency(d))
	}
	return out, nil
}

func (t *routingTx) SaveStatus(op routing.Operation, actorID string) error {
	now := t.now()
	updates := map[string]interface{}{
		"status":       string(op.Status),
		"started_at":   op.StartedAt,
		"completed_at": op.CompletedAt,
		"completed_by": nil,
		"updated_at":   now,
	}
	if op.Status == routing.StatusCompleted {
		updates["completed_by"] = actorID
	}
	res := t.db.Model(&entity.WorkOrderOperation{}).Where("id = ?", op.ID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新工序状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return routing.ErrOperationNotFound
	}
	if op.StartedAt != nil {
		if err := t.db.Model(&entity.WorkOrderOperation{}).
			Where("id = ? AND started_by IS NULL", op.ID).
			Update("started_by", actorID).Error; err != nil {
			return fmt.Errorf("记录开工人失败: %w", err)
		}
	}
	if err := t.db.Model(&entity.WorkOrderRouting{}).
		Where("id = ?", op.RoutingID).
		Updates(map[string]interface{}{"version": gorm.Expr("version + ?", 1), "updated_at": now}).Error; err != nil {
		return fmt.Errorf("更新路线版本失败: %w", err)
	}
	return nil
}

func (t *routingTx) ReadinessFlags(ids []string) (map[string]bool, error) {
	flags := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return flags, nil
	}
	var recs []entity.OperationReadiness
	if err := t.db.Select("operation_id", "is_ready").Where("operation_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("查找就绪记录失败: %w", err)
	}
	for _, r := range recs {
		flags[r.OperationID] = r.IsReady
	}
	return flags, nil
}

func (t *routingTx) SaveReadiness(records []routing.Readiness) error {
	if len(records) == 0 {
		return nil
	}
	now := t.now()
	rows := make([]entity.OperationReadiness, 0, len(records))
	for _, r := range records {
		row := fromReadiness(r)
		row.LastCalculated = now
		rows = append(rows, row)
	}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "operation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_ready", "can_dispatch", "blocked_reasons", "estimated_wait_minutes", "last_calculated"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("保存就绪记录失败: %w", err)
	}
	return nil
}

func (t *routingTx) WorkCenterLoad(workCenterID, excludeOperationID string) (routing.Load, error) {
	return workCenterLoad(t.db, workCenterID, excludeOperationID)
}

func (t *routingTx) SetWorkOrderStatus(workOrderID string, status routing.WorkOrderStatus) error {
	updates := map[string]interface{}{
		"status":       string(status),
		"completed_at": nil,
		"updated_at":   t.now(),
	}
	if status == routing.WorkOrderCompleted {
		updates["completed_at"] = t.now()
	}
	if err := t.db.Model(&entity.WorkOrder{}).Where("id = ?", workOrderID).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新工单状态失败: %w", err)
	}
	return nil
}

func (t *routingTx) AppendHistory(e routing.HistoryEntry) error {
	log := entity.OperationActionLog{
		ID:          uuid.NewString(),
		OperationID: e.OperationID,
		WorkOrderID: e.WorkOrderID,
		UserID:      e.ActorID,
		Action:      entity.ActionStatusChange,
		FromStatus:  string(e.From),
		ToStatus:    string(e.To),
		Overridden:  e.Overridden,
		Notes:       e.Notes,
		CreatedAt:   e.At,
	}
	if err := t.db.Create(&log).Error; err != nil {
		return fmt.Errorf("记录操作历史失败: %w", err)
	}
	return nil
}

// workCenterLoad 统计工作中心上其他工序的占用情况（已删除工单除外）
func workCenterLoad(db *gorm.DB, workCenterID, excludeOperationID string) (routing.Load, error) {
	var load routing.Load
	if workCenterID == "" {
		return load, nil
	}
	live := db.Model(&entity.WorkOrderOperation{}).
		Joins("JOIN work_orders ON work_orders.id = work_order_operations.work_order_id AND work_orders.deleted_at IS NULL").
		Where("work_order_operations.work_center_id = ? AND work_order_operations.id <> ?", workCenterID, excludeOperationID)

	var active int64
	if err := live.Session(&gorm.Session{}).
		Where("work_order_operations.status IN ?", []string{string(routing.StatusSetup), string(routing.StatusRunning)}).
		Count(&active).Error; err != nil {
		return load, fmt.Errorf("统计工作中心负载失败: %w", err)
	}
	if active == 0 {
		return load, nil
	}
	load.Busy = true

	var queued int64
	if err := live.Session(&gorm.Session{}).
		Where("work_order_operations.status = ?", string(routing.StatusPending)).
		Select("COALESCE(SUM(work_order_operations.planned_run_minutes), 0)").
		Scan(&queued).Error; err != nil {
		return load, fmt.Errorf("统计排队时间失败: %w", err)
	}
	load.QueuedRunMinutes = int(queued)
	return load, nil
}
