package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkOrderService 工单与工序维护
type WorkOrderService struct {
	repos     *repository.Repositories
	authz     Authorizer
	readiness *ReadinessService
	logger    *zap.Logger
}

// NewWorkOrderService 创建工单服务
func NewWorkOrderService(repos *repository.Repositories, authz Authorizer, readiness *ReadinessService, logger *zap.Logger) *WorkOrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkOrderService{repos: repos, authz: authz, readiness: readiness, logger: logger.Named("work-order")}
}

// CreateWorkOrderRequest 创建工单请求
type CreateWorkOrderRequest struct {
	PartID   string     `json:"part_id" binding:"required"`
	Quantity int        `json:"quantity" binding:"required,min=1"`
	Priority int        `json:"priority"`
	DueDate  *time.Time `json:"due_date"`
	Notes    string     `json:"notes"`
}

// CreateWorkOrderWithRouting 按零件当前生效的工艺路线创建工单及其工序，并计算初始就绪状态
func (s *WorkOrderService) CreateWorkOrderWithRouting(ctx context.Context, p Principal, req CreateWorkOrderRequest) (*entity.WorkOrder, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderCreate); err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if _, err := s.repos.Part.FindByID(ctx, req.PartID); err != nil {
		return nil, err
	}
	tmpl, err := s.repos.Part.ActiveRouting(ctx, req.PartID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveRouting
	}
	if err != nil {
		return nil, persistence("find active routing", err)
	}

	woID := uuid.NewString()
	wo := &entity.WorkOrder{
		ID:        woID,
		PartID:    req.PartID,
		Quantity:  req.Quantity,
		Status:    string(routing.WorkOrderReleased),
		Priority:  req.Priority,
		DueDate:   req.DueDate,
		Notes:     req.Notes,
		CreatedBy: p.UserID,
	}
	rt := &entity.WorkOrderRouting{ID: uuid.NewString(), WorkOrderID: woID, RoutingID: tmpl.ID, Version: 1}

	ops := make([]entity.WorkOrderOperation, 0, len(tmpl.Steps))
	snapshot := routing.Routing{ID: rt.ID, WorkOrderID: woID}
	for _, step := range tmpl.Steps {
		op := entity.WorkOrderOperation{
			ID:                  uuid.NewString(),
			RoutingID:           rt.ID,
			WorkOrderID:         woID,
			Sequence:            step.Sequence,
			Code:                step.Code,
			Name:                step.Name,
			WorkCenterID:        step.WorkCenterID,
			Status:              string(routing.StatusPending),
			Priority:            req.Priority,
			AssignedUserID:      step.DefaultAssignee,
			PlannedSetupMinutes: step.SetupMinutes,
			PlannedRunMinutes:   int(math.Ceil(step.RunMinutes * float64(req.Quantity))),
			PlannedQty:          req.Quantity,
		}
		ops = append(ops, op)
		snapshot.Operations = append(snapshot.Operations, repository.ToOperation(op))
	}

	readiness := make([]entity.OperationReadiness, 0, len(ops))
	now := time.Now()
	for _, op := range snapshot.Operations {
		base, err := routing.Evaluate(snapshot, op.ID)
		if err != nil {
			return nil, err
		}
		load, err := s.repos.WorkCenter.Load(ctx, op.WorkCenterID, op.ID)
		if err != nil {
			return nil, persistence("work center load", err)
		}
		rd := routing.ApplyResources(base, op, load)
		reasons := make([]string, 0, len(rd.BlockedReasons))
		for _, r := range rd.BlockedReasons {
			reasons = append(reasons, string(r))
		}
		readiness = append(readiness, entity.OperationReadiness{
			OperationID:          op.ID,
			IsReady:              rd.IsReady,
			CanDispatch:          rd.CanDispatch,
			BlockedReasons:       reasons,
			EstimatedWaitMinutes: rd.EstimatedWaitMinutes,
			LastCalculated:       now,
		})
	}

	if err := s.repos.WorkOrder.CreateWithRouting(ctx, wo, rt, ops, readiness); err != nil {
		return nil, persistence("create work order", err)
	}
	s.logger.Info("work order created",
		zap.String("work_order_id", wo.ID),
		zap.String("number", wo.Number),
		zap.Int("operations", len(ops)))
	return s.repos.WorkOrder.FindByID(ctx, woID)
}

// Get 工单详情
func (s *WorkOrderService) Get(ctx context.Context, p Principal, id string) (*entity.WorkOrder, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.FindByID(ctx, id)
}

// List 工单列表
func (s *WorkOrderService) List(ctx context.Context, p Principal, filter repository.WorkOrderFilter, page, pageSize int) ([]entity.WorkOrder, int64, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, 0, err
	}
	return s.repos.WorkOrder.List(ctx, filter, page, pageSize)
}

// Delete 软删除工单
func (s *WorkOrderService) Delete(ctx context.Context, p Principal, id string) error {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderDelete); err != nil {
		return err
	}
	if err := s.repos.WorkOrder.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("work order deleted", zap.String("work_order_id", id), zap.String("user_id", p.UserID))
	return nil
}

// GetOperation 工序详情
func (s *WorkOrderService) GetOperation(ctx context.Context, p Principal, id string) (*entity.WorkOrderOperation, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	return s.repos.Operation.FindByID(ctx, id)
}

// UpdateQuantityRequest 报工数量
type UpdateQuantityRequest struct {
	CompletedQty int    `json:"completed_qty" binding:"min=0"`
	ScrappedQty  int    `json:"scrapped_qty" binding:"min=0"`
	Notes        string `json:"notes"`
}

// UpdateOperationQuantity 更新工序完成与报废数量
func (s *WorkOrderService) UpdateOperationQuantity(ctx context.Context, p Principal, operationID string, req UpdateQuantityRequest) (*entity.WorkOrderOperation, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderUpdate); err != nil {
		return nil, err
	}
	if req.CompletedQty < 0 || req.ScrappedQty < 0 {
		return nil, fmt.Errorf("%w: quantities must not be negative", ErrInvalidInput)
	}
	op, err := s.repos.Operation.FindByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.PlannedQty > 0 && req.CompletedQty+req.ScrappedQty > op.PlannedQty {
		return nil, fmt.Errorf("%w: reported %d exceeds planned %d", ErrInvalidInput, req.CompletedQty+req.ScrappedQty, op.PlannedQty)
	}
	if err := s.repos.Operation.UpdateFields(ctx, operationID, map[string]interface{}{
		"completed_qty": req.CompletedQty,
		"scrapped_qty":  req.ScrappedQty,
	}); err != nil {
		return nil, persistence("update quantity", err)
	}
	s.logAction(ctx, op, p, entity.ActionQuantity,
		fmt.Sprintf("completed=%d scrapped=%d %s", req.CompletedQty, req.ScrappedQty, req.Notes))
	return s.repos.Operation.FindByID(ctx, operationID)
}

// AssignUserToOperation 指派操作员并重新计算该工序的就绪状态
func (s *WorkOrderService) AssignUserToOperation(ctx context.Context, p Principal, operationID, userID string) (*entity.WorkOrderOperation, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderUpdate); err != nil {
		return nil, err
	}
	op, err := s.repos.Operation.FindByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	var assignee interface{}
	if userID != "" {
		if _, err := s.repos.User.FindByID(ctx, userID); err != nil {
			return nil, fmt.Errorf("%w: unknown user %s", ErrInvalidInput, userID)
		}
		assignee = userID
	}
	if err := s.repos.Operation.UpdateFields(ctx, operationID, map[string]interface{}{"assigned_user_id": assignee}); err != nil {
		return nil, persistence("assign operation", err)
	}
	s.logAction(ctx, op, p, entity.ActionAssign, "assigned to "+userID)

	before, err := s.repos.Readiness.FindByOperation(ctx, operationID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, persistence("find readiness", err)
	}
	rd, err := s.readiness.CalculateReadiness(ctx, operationID)
	if err != nil {
		s.logger.Warn("recalculate readiness after assignment failed", zap.String("operation_id", operationID), zap.Error(err))
	} else if before != nil && before.IsReady && !before.CanDispatch && rd.CanDispatch {
		// 已就绪的工序指派了操作员，通知新的负责人
		s.readiness.notify(ctx, operationID)
	}
	return s.repos.Operation.FindByID(ctx, operationID)
}

// ListOperationsByWorkCenter 工作中心的工序
func (s *WorkOrderService) ListOperationsByWorkCenter(ctx context.Context, p Principal, workCenterID string, statuses []string) ([]entity.WorkOrderOperation, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if _, err := routing.ParseStatus(st); err != nil {
			return nil, err
		}
	}
	if _, err := s.repos.WorkCenter.FindByID(ctx, workCenterID); err != nil {
		return nil, err
	}
	return s.repos.Operation.ListByWorkCenter(ctx, workCenterID, statuses)
}

// AddDependencyRequest 添加工序依赖
type AddDependencyRequest struct {
	DependsOnID    string `json:"depends_on_id" binding:"required"`
	DependencyType string `json:"dependency_type"`
	LagMinutes     int    `json:"lag_minutes" binding:"min=0"`
}

// AddDependency 添加显式依赖。被依赖工序必须在同一路线且工序号更小，保证无环。
func (s *WorkOrderService) AddDependency(ctx context.Context, p Principal, operationID string, req AddDependencyRequest) (*entity.OperationDependency, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderUpdate); err != nil {
		return nil, err
	}
	typ := routing.DependencyType(req.DependencyType)
	if typ == "" {
		typ = routing.DependencyFinishToStart
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDependency, req.DependencyType)
	}
	op, err := s.repos.Operation.FindByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	dep, err := s.repos.Operation.FindByID(ctx, req.DependsOnID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: operation %s not found", ErrInvalidDependency, req.DependsOnID)
	}
	if err != nil {
		return nil, err
	}
	if dep.RoutingID != op.RoutingID {
		return nil, fmt.Errorf("%w: operations belong to different routings", ErrInvalidDependency)
	}
	if dep.Sequence >= op.Sequence {
		return nil, fmt.Errorf("%w: dependency must have a lower sequence", ErrInvalidDependency)
	}

	rec := &entity.OperationDependency{
		ID:             uuid.NewString(),
		OperationID:    operationID,
		DependsOnID:    req.DependsOnID,
		DependencyType: string(typ),
		LagMinutes:     req.LagMinutes,
		CreatedBy:      p.UserID,
	}
	if err := s.repos.Operation.CreateDependency(ctx, rec); err != nil {
		return nil, persistence("create dependency", err)
	}
	if _, err := s.readiness.CalculateReadiness(ctx, operationID); err != nil {
		s.logger.Warn("recalculate readiness after dependency change failed", zap.String("operation_id", operationID), zap.Error(err))
	}
	return rec, nil
}

// ListDependencies 工序的显式依赖
func (s *WorkOrderService) ListDependencies(ctx context.Context, p Principal, operationID string) ([]entity.OperationDependency, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	if _, err := s.repos.Operation.FindByID(ctx, operationID); err != nil {
		return nil, err
	}
	return s.repos.Operation.ListDependencies(ctx, operationID)
}

// History 工序操作记录
func (s *WorkOrderService) History(ctx context.Context, p Principal, operationID string) ([]entity.OperationActionLog, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	return s.repos.ActionLog.ListByOperation(ctx, operationID)
}

// OperationReadiness 工序当前保存的就绪记录
func (s *WorkOrderService) OperationReadiness(ctx context.Context, p Principal, operationID string) (*entity.OperationReadiness, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	return s.repos.Readiness.FindByOperation(ctx, operationID)
}

// WorkOrderReadiness 工单全部工序的就绪记录
func (s *WorkOrderService) WorkOrderReadiness(ctx context.Context, p Principal, workOrderID string) ([]entity.OperationReadiness, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	if _, err := s.repos.WorkOrder.FindByID(ctx, workOrderID); err != nil {
		return nil, err
	}
	return s.repos.Readiness.ListByWorkOrder(ctx, workOrderID)
}

func (s *WorkOrderService) logAction(ctx context.Context, op *entity.WorkOrderOperation, p Principal, action, notes string) {
	log := &entity.OperationActionLog{
		ID:          uuid.NewString(),
		OperationID: op.ID,
		WorkOrderID: op.WorkOrderID,
		UserID:      p.UserID,
		Action:      action,
		FromStatus:  op.Status,
		ToStatus:    op.Status,
		Notes:       notes,
		CreatedAt:   time.Now(),
	}
	if err := s.repos.ActionLog.Create(ctx, log); err != nil {
		s.logger.Warn("write action log failed", zap.String("operation_id", op.ID), zap.Error(err))
	}
}

// RecalculateReadiness 重新计算工单全部工序的就绪状态
func (s *WorkOrderService) RecalculateReadiness(ctx context.Context, p Principal, workOrderID string) (map[string]routing.Readiness, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderUpdate); err != nil {
		return nil, err
	}
	if _, err := s.repos.WorkOrder.FindByID(ctx, workOrderID); err != nil {
		return nil, err
	}
	return s.readiness.CalculateWorkOrderReadiness(ctx, workOrderID)
}

// ReadyOperations 工作中心上可以开工的工序
func (s *WorkOrderService) ReadyOperations(ctx context.Context, p Principal, workCenterID string) ([]entity.WorkOrderOperation, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	if _, err := s.repos.WorkCenter.FindByID(ctx, workCenterID); err != nil {
		return nil, err
	}
	return s.readiness.GetReadyOperations(ctx, workCenterID)
}

// WorkCenterQueue 工作中心当前队列
func (s *WorkOrderService) WorkCenterQueue(ctx context.Context, p Principal, workCenterID string) ([]entity.WorkCenterQueueEntry, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, err
	}
	return s.readiness.Queue(ctx, workCenterID)
}

// RebuildQueue 手动重建工作中心队列
func (s *WorkOrderService) RebuildQueue(ctx context.Context, p Principal, workCenterID string) ([]entity.WorkCenterQueueEntry, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkCenterManage); err != nil {
		return nil, err
	}
	if _, err := s.repos.WorkCenter.FindByID(ctx, workCenterID); err != nil {
		return nil, err
	}
	return s.readiness.UpdateWorkCenterQueue(ctx, workCenterID)
}
