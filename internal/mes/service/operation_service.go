package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"go.uber.org/zap"
)

// Publisher 向展示层推送事件
type Publisher interface {
	Publish(ctx context.Context, ev sse.Event) error
}

// ReadyNotifier 工序变为就绪后通知相关人员
type ReadyNotifier interface {
	NotifyOperationsReady(ctx context.Context, operationIDs []string) error
}

// QueueRebuilder 重建工作中心队列
type QueueRebuilder interface {
	UpdateWorkCenterQueue(ctx context.Context, workCenterID string) ([]entity.WorkCenterQueueEntry, error)
}

// UpdateStatusRequest 工序状态更新请求
type UpdateStatusRequest struct {
	OperationID string
	Status      string
	Notes       string
	Override    bool
}

// UpdateResult 工序状态更新结果
type UpdateResult struct {
	Operation       routing.Operation       `json:"operation"`
	PreviousStatus  routing.Status          `json:"previous_status"`
	Changed         bool                    `json:"changed"`
	Overridden      bool                    `json:"overridden"`
	Orphaned        bool                    `json:"orphaned"`
	Successors      []routing.Readiness     `json:"successors"`
	BecameReady     []string                `json:"became_ready"`
	BecameBlocked   []string                `json:"became_blocked"`
	WorkOrderStatus routing.WorkOrderStatus `json:"work_order_status"`
	StaleViews      []routing.ViewKey       `json:"stale_views"`
}

// OperationService 工序状态服务：校验、持久化、就绪传播、刷新通知
type OperationService struct {
	store       routing.Store
	authz       Authorizer
	locker      RoutingLocker
	publisher   Publisher
	notifier    ReadyNotifier
	queues      QueueRebuilder
	transitions atomic.Pointer[routing.TransitionTable]
	logger      *zap.Logger
	now         func() time.Time
}

// NewOperationService 创建工序状态服务。publisher、notifier、queues 可以为 nil。
func NewOperationService(store routing.Store, authz Authorizer, locker RoutingLocker, publisher Publisher, logger *zap.Logger) *OperationService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &OperationService{
		store:     store,
		authz:     authz,
		locker:    locker,
		publisher: publisher,
		logger:    logger.Named("operation"),
		now:       time.Now,
	}
	table := routing.DefaultTransitions()
	s.transitions.Store(&table)
	return s
}

// SetTransitions 替换转换表（配置热更新）
func (s *OperationService) SetTransitions(table routing.TransitionTable) {
	s.transitions.Store(&table)
}

// SetReadyNotifier 注入就绪通知
func (s *OperationService) SetReadyNotifier(n ReadyNotifier) {
	s.notifier = n
}

// SetQueueRebuilder 注入队列重建
func (s *OperationService) SetQueueRebuilder(q QueueRebuilder) {
	s.queues = q
}

// UpdateOperationStatus 更新工序状态。
// 同一工单的更新串行执行；提交后在锁外推送视图刷新、发送就绪通知、重建队列。
func (s *OperationService) UpdateOperationStatus(ctx context.Context, p Principal, req UpdateStatusRequest) (*UpdateResult, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderUpdate); err != nil {
		return nil, err
	}
	if req.Override {
		if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderOverride); err != nil {
			return nil, err
		}
	}
	requested, err := routing.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	var target routing.Operation
	err = s.store.InTx(ctx, func(tx routing.Tx) error {
		op, err := tx.Operation(req.OperationID)
		target = op
		return err
	})
	if err != nil {
		return nil, persistence("read operation", err)
	}

	unlock, err := s.locker.Lock(ctx, workOrderLockKey(target.WorkOrderID))
	if err != nil {
		return nil, &PersistenceError{Op: "lock work order", Err: err}
	}
	result, err := s.apply(ctx, p, req, requested)
	unlock()

	if errors.Is(err, routing.ErrOrphanedOperation) {
		s.logger.Warn("status update on orphaned operation ignored",
			zap.String("operation_id", req.OperationID),
			zap.String("work_order_id", target.WorkOrderID),
			zap.String("user_id", p.UserID))
		return &UpdateResult{Operation: target, PreviousStatus: target.Status, Orphaned: true}, nil
	}
	if err != nil {
		var te *routing.TransitionError
		if errors.As(err, &te) {
			s.logger.Info("status transition rejected",
				zap.String("operation_id", req.OperationID),
				zap.String("from", string(te.From)),
				zap.String("to", string(te.To)),
				zap.Strings("blocking", te.Blocking))
		}
		return nil, persistence("update operation status", err)
	}

	if result.Changed {
		s.afterCommit(ctx, result)
	}
	return result, nil
}

// apply 在一个事务中完成校验、写入与传播
func (s *OperationService) apply(ctx context.Context, p Principal, req UpdateStatusRequest, requested routing.Status) (*UpdateResult, error) {
	table := *s.transitions.Load()
	result := &UpdateResult{}

	err := s.store.InTx(ctx, func(tx routing.Tx) error {
		op, err := tx.Operation(req.OperationID)
		if err != nil {
			return err
		}
		r, err := tx.LockRouting(op.RoutingID)
		if err != nil {
			return err
		}
		cur, ok := r.Operation(op.ID)
		if !ok {
			return routing.ErrOrphanedOperation
		}
		result.Operation = cur
		result.PreviousStatus = cur.Status
		result.WorkOrderStatus = r.WorkOrderStatus

		decision, err := table.Validate(cur.Status, requested, r.Predecessors(cur.ID), req.Override)
		if err != nil {
			return err
		}
		if decision.NoOp {
			return nil
		}

		now := s.now()
		ts := routing.NextTimestamps(cur.Timestamps(), requested, now)
		updated := cur
		updated.Status = requested
		updated.StartedAt = ts.StartedAt
		updated.CompletedAt = ts.CompletedAt
		if err := tx.SaveStatus(updated, p.UserID); err != nil {
			return err
		}
		if err := tx.AppendHistory(routing.HistoryEntry{
			OperationID: cur.ID,
			WorkOrderID: r.WorkOrderID,
			ActorID:     p.UserID,
			From:        cur.Status,
			To:          requested,
			Overridden:  decision.Overridden,
			Notes:       req.Notes,
			At:          now,
		}); err != nil {
			return err
		}

		next := r.WithStatus(cur.ID, requested, ts)
		prop, err := routing.Propagate(next, cur.ID)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(prop.Successors))
		for _, rd := range prop.Successors {
			ids = append(ids, rd.OperationID)
		}
		previous, err := tx.ReadinessFlags(ids)
		if err != nil {
			return err
		}
		for i, rd := range prop.Successors {
			succ, _ := next.Operation(rd.OperationID)
			load, err := tx.WorkCenterLoad(succ.WorkCenterID, succ.ID)
			if err != nil {
				return err
			}
			prop.Successors[i] = routing.ApplyResources(rd, succ, load)
		}
		if err := tx.SaveReadiness(prop.Successors); err != nil {
			return err
		}

		rolled := routing.Rollup(r.WorkOrderStatus, next)
		if rolled != r.WorkOrderStatus {
			if err := tx.SetWorkOrderStatus(r.WorkOrderID, rolled); err != nil {
				return err
			}
		}

		result.Operation = updated
		result.Changed = true
		result.Overridden = decision.Overridden
		result.Successors = prop.Successors
		result.BecameReady, result.BecameBlocked = prop.Transitions(previous)
		result.WorkOrderStatus = rolled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		centers := []string{result.Operation.WorkCenterID}
		changed := make(map[string]bool, len(result.BecameReady)+len(result.BecameBlocked))
		for _, id := range append(append([]string{}, result.BecameReady...), result.BecameBlocked...) {
			changed[id] = true
		}
		for _, rd := range result.Successors {
			if changed[rd.OperationID] {
				centers = append(centers, rd.WorkCenterID)
			}
		}
		result.StaleViews = routing.StaleViews(result.Operation.WorkOrderID, centers...)
	}
	return result, nil
}

// afterCommit 提交后的副作用，失败只记录日志
func (s *OperationService) afterCommit(ctx context.Context, result *UpdateResult) {
	if s.publisher != nil {
		views := make([]string, 0, len(result.StaleViews))
		for _, v := range result.StaleViews {
			views = append(views, string(v))
		}
		ev := sse.Event{
			Type:  sse.EventViewsStale,
			Views: views,
			Data: map[string]interface{}{
				"operation_id":  result.Operation.ID,
				"work_order_id": result.Operation.WorkOrderID,
				"status":        result.Operation.Status,
			},
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish stale views failed", zap.Error(err))
		}
	}

	if s.notifier != nil && len(result.BecameReady) > 0 {
		if err := s.notifier.NotifyOperationsReady(ctx, result.BecameReady); err != nil {
			s.logger.Warn("notify ready operations failed", zap.Strings("operations", result.BecameReady), zap.Error(err))
		}
	}

	if s.queues != nil {
		seen := map[string]bool{}
		for _, v := range result.StaleViews {
			wc, ok := workCenterOf(v)
			if !ok || seen[wc] {
				continue
			}
			seen[wc] = true
			if _, err := s.queues.UpdateWorkCenterQueue(ctx, wc); err != nil {
				s.logger.Warn("rebuild work center queue failed", zap.String("work_center_id", wc), zap.Error(err))
			}
		}
	}
}

func workCenterOf(v routing.ViewKey) (string, bool) {
	const prefix = "work-center:"
	s := string(v)
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}
