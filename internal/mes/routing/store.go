package routing

import (
	"context"
	"time"
)

// Store 工艺路线持久化边界。InTx 中的所有写入要么全部提交，要么全部回滚。
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 事务内的读写操作
type Tx interface {
	// Operation 读取工序，不存在时返回 ErrOperationNotFound
	Operation(id string) (Operation, error)
	// LockRouting 锁定并读取工艺路线。路线缺失或工单已删除时返回 ErrOrphanedOperation。
	LockRouting(routingID string) (Routing, error)
	// SaveStatus 写入工序状态与时间戳，并递增路线版本
	SaveStatus(op Operation, actorID string) error
	ReadinessFlags(ids []string) (map[string]bool, error)
	SaveReadiness(records []Readiness) error
	WorkCenterLoad(workCenterID, excludeOperationID string) (Load, error)
	SetWorkOrderStatus(workOrderID string, status WorkOrderStatus) error
	AppendHistory(entry HistoryEntry) error
}

// HistoryEntry 工序状态变更记录
type HistoryEntry struct {
	OperationID string
	WorkOrderID string
	ActorID     string
	From        Status
	To          Status
	Overridden  bool
	Notes       string
	At          time.Time
}
