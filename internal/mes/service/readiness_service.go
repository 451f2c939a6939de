package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReadinessService 工序就绪计算与工作中心队列
type ReadinessService struct {
	store       routing.Store
	opRepo      *repository.OperationRepository
	woRepo      *repository.WorkOrderRepository
	wcRepo      *repository.WorkCenterRepository
	notifier    ReadyNotifier
	parallelism int
	logger      *zap.Logger
}

// NewReadinessService 创建就绪服务
func NewReadinessService(store routing.Store, repos *repository.Repositories, logger *zap.Logger) *ReadinessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadinessService{
		store:       store,
		opRepo:      repos.Operation,
		woRepo:      repos.WorkOrder,
		wcRepo:      repos.WorkCenter,
		parallelism: 4,
		logger:      logger.Named("readiness"),
	}
}

// SetReadyNotifier 注入就绪通知
func (s *ReadinessService) SetReadyNotifier(n ReadyNotifier) {
	s.notifier = n
}

// SetParallelism 工单就绪计算的并发度
func (s *ReadinessService) SetParallelism(n int) {
	if n > 0 {
		s.parallelism = n
	}
}

// CalculateReadiness 计算并保存单个工序的就绪状态（依赖、工作中心、操作员）。
// 由未就绪变为就绪时发送通知。
func (s *ReadinessService) CalculateReadiness(ctx context.Context, operationID string) (routing.Readiness, error) {
	var (
		res         routing.Readiness
		becameReady bool
	)
	err := s.store.InTx(ctx, func(tx routing.Tx) error {
		op, err := tx.Operation(operationID)
		if err != nil {
			return err
		}
		r, err := tx.LockRouting(op.RoutingID)
		if err != nil {
			return err
		}
		base, err := routing.Evaluate(r, operationID)
		if err != nil {
			return err
		}
		cur, _ := r.Operation(operationID)
		load, err := tx.WorkCenterLoad(cur.WorkCenterID, cur.ID)
		if err != nil {
			return err
		}
		res = routing.ApplyResources(base, cur, load)

		previous, err := tx.ReadinessFlags([]string{operationID})
		if err != nil {
			return err
		}
		becameReady = res.IsReady && !previous[operationID]
		return tx.SaveReadiness([]routing.Readiness{res})
	})
	if err != nil {
		return routing.Readiness{}, persistence("calculate readiness", err)
	}

	if becameReady {
		s.notify(ctx, operationID)
	}
	return res, nil
}

func (s *ReadinessService) notify(ctx context.Context, operationID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOperationsReady(ctx, []string{operationID}); err != nil {
		s.logger.Warn("notify ready operation failed", zap.String("operation_id", operationID), zap.Error(err))
	}
}

// CalculateWorkOrderReadiness 重新计算工单全部工序的就绪状态
func (s *ReadinessService) CalculateWorkOrderReadiness(ctx context.Context, workOrderID string) (map[string]routing.Readiness, error) {
	rt, err := s.woRepo.FindRouting(ctx, workOrderID)
	if err != nil {
		return nil, persistence("find work order routing", err)
	}
	ops, err := s.opRepo.ListByRouting(ctx, rt.ID)
	if err != nil {
		return nil, persistence("list operations", err)
	}

	var mu sync.Mutex
	out := make(map[string]routing.Readiness, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, op := range ops {
		id := op.ID
		g.Go(func() error {
			rd, err := s.CalculateReadiness(gctx, id)
			if err != nil {
				return fmt.Errorf("operation %s: %w", id, err)
			}
			mu.Lock()
			out[id] = rd
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetReadyOperations 工作中心上可以开工的工序：优先级降序、交期升序、工序号升序
func (s *ReadinessService) GetReadyOperations(ctx context.Context, workCenterID string) ([]entity.WorkOrderOperation, error) {
	ops, err := s.opRepo.ListByWorkCenter(ctx, workCenterID, []string{string(routing.StatusPending)})
	if err != nil {
		return nil, persistence("list work center operations", err)
	}
	ready := make([]entity.WorkOrderOperation, 0, len(ops))
	for _, op := range ops {
		rd, err := s.CalculateReadiness(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		if rd.IsReady {
			ready = append(ready, op)
		}
	}
	return ready, nil
}

// UpdateWorkCenterQueue 用当前就绪工序重建工作中心队列，
// 每个位置的预计等待时间为前面所有工序的计划调机与加工时间之和。
func (s *ReadinessService) UpdateWorkCenterQueue(ctx context.Context, workCenterID string) ([]entity.WorkCenterQueueEntry, error) {
	ready, err := s.GetReadyOperations(ctx, workCenterID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	entries := make([]entity.WorkCenterQueueEntry, 0, len(ready))
	wait := 0
	for i, op := range ready {
		entries = append(entries, entity.WorkCenterQueueEntry{
			ID:                   uuid.NewString(),
			WorkCenterID:         workCenterID,
			OperationID:          op.ID,
			Position:             i + 1,
			EstimatedWaitMinutes: wait,
			CreatedAt:            now,
		})
		wait += op.PlannedSetupMinutes + op.PlannedRunMinutes
	}
	if err := s.wcRepo.ReplaceQueue(ctx, workCenterID, entries); err != nil {
		return nil, persistence("replace work center queue", err)
	}
	s.logger.Debug("work center queue rebuilt", zap.String("work_center_id", workCenterID), zap.Int("entries", len(entries)))
	return entries, nil
}

// Queue 当前队列
func (s *ReadinessService) Queue(ctx context.Context, workCenterID string) ([]entity.WorkCenterQueueEntry, error) {
	if _, err := s.wcRepo.FindByID(ctx, workCenterID); err != nil {
		return nil, err
	}
	return s.wcRepo.ListQueue(ctx, workCenterID)
}
