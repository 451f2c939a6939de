package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ToOperation 实体转换为状态机使用的工序快照
func ToOperation(op entity.WorkOrderOperation) routing.Operation {
	return routing.Operation{
		ID:                  op.ID,
		RoutingID:           op.RoutingID,
		WorkOrderID:         op.WorkOrderID,
		Sequence:            op.Sequence,
		Name:                op.Name,
		Status:              routing.Status(op.Status),
		WorkCenterID:        op.WorkCenterID,
		AssignedUserID:      deref(op.AssignedUserID),
		PlannedSetupMinutes: op.PlannedSetupMinutes,
		PlannedRunMinutes:   op.PlannedRunMinutes,
		StartedAt:           op.StartedAt,
		CompletedAt:         op.CompletedAt,
	}
}

func toDependency(d entity.OperationDependency) routing.Dependency {
	return routing.Dependency{
		OperationID: d.OperationID,
		DependsOnID: d.DependsOnID,
		Type:        routing.DependencyType(d.DependencyType),
		LagMinutes:  d.LagMinutes,
	}
}

// ToReadiness 就绪记录转换
func ToReadiness(rec entity.OperationReadiness, workCenterID string) routing.Readiness {
	reasons := make([]routing.BlockedReason, 0, len(rec.BlockedReasons))
	for _, r := range rec.BlockedReasons {
		reasons = append(reasons, routing.BlockedReason(r))
	}
	return routing.Readiness{
		OperationID:          rec.OperationID,
		WorkCenterID:         workCenterID,
		IsReady:              rec.IsReady,
		CanDispatch:          rec.CanDispatch,
		BlockedReasons:       reasons,
		EstimatedWaitMinutes: rec.EstimatedWaitMinutes,
	}
}

func fromReadiness(r routing.Readiness) entity.OperationReadiness {
	reasons := make([]string, 0, len(r.BlockedReasons))
	for _, br := range r.BlockedReasons {
		reasons = append(reasons, string(br))
	}
	return entity.OperationReadiness{
		OperationID:          r.OperationID,
		IsReady:              r.IsReady,
		CanDispatch:          r.CanDispatch,
		BlockedReasons:       reasons,
		EstimatedWaitMinutes: r.EstimatedWaitMinutes,
	}
}
