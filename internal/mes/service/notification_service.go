package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// NotificationService 站内通知
type NotificationService struct {
	repo      *repository.NotificationRepository
	opRepo    *repository.OperationRepository
	publisher Publisher
	logger    *zap.Logger
}

// NewNotificationService 创建通知服务
func NewNotificationService(repos *repository.Repositories, publisher Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:      repos.Notification,
		opRepo:    repos.Operation,
		publisher: publisher,
		logger:    logger.Named("notification"),
	}
}

// NotifyOperationsReady 工序就绪时通知指派人以及该工作中心上正在作业的操作员
func (s *NotificationService) NotifyOperationsReady(ctx context.Context, operationIDs []string) error {
	for _, id := range operationIDs {
		if err := s.notifyReady(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotificationService) notifyReady(ctx context.Context, operationID string) error {
	op, err := s.opRepo.FindByID(ctx, operationID)
	if err != nil {
		return fmt.Errorf("查找工序失败: %w", err)
	}

	recipients := map[string]bool{}
	if op.AssignedUserID != nil && *op.AssignedUserID != "" {
		recipients[*op.AssignedUserID] = true
	}
	workers, err := s.opRepo.DistinctAssignees(ctx, op.WorkCenterID, []string{string(routing.StatusSetup), string(routing.StatusRunning)})
	if err != nil {
		return fmt.Errorf("查找工作中心操作员失败: %w", err)
	}
	for _, u := range workers {
		recipients[u] = true
	}
	if len(recipients) == 0 {
		return nil
	}

	centerName := op.WorkCenterID
	if op.WorkCenter != nil {
		centerName = op.WorkCenter.Name
	}
	data := datatypes.JSONMap{
		"operation_id":   op.ID,
		"work_order_id":  op.WorkOrderID,
		"work_center_id": op.WorkCenterID,
		"sequence":       op.Sequence,
	}
	now := time.Now()
	items := make([]entity.Notification, 0, len(recipients))
	for userID := range recipients {
		items = append(items, entity.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Type:      entity.NotificationOperationReady,
			Title:     fmt.Sprintf("工序 %d %s 已就绪", op.Sequence, op.Name),
			Message:   fmt.Sprintf("工序 %s 可以在 %s 开工", op.Name, centerName),
			Data:      data,
			CreatedAt: now,
		})
	}
	if err := s.repo.CreateBatch(ctx, items); err != nil {
		return fmt.Errorf("保存通知失败: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	for _, n := range items {
		ev := sse.Event{Type: sse.EventOperationReady, UserID: n.UserID, Data: n}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("push notification failed", zap.String("user_id", n.UserID), zap.Error(err))
		}
	}
	return nil
}

// List 用户通知列表
func (s *NotificationService) List(ctx context.Context, p Principal, unreadOnly bool, limit int) ([]entity.Notification, error) {
	return s.repo.ListByUser(ctx, p.UserID, unreadOnly, limit)
}

// MarkRead 标记已读
func (s *NotificationService) MarkRead(ctx context.Context, p Principal, id string) error {
	return s.repo.MarkRead(ctx, id, p.UserID)
}
