package routing

// WorkOrderStatus 工单状态
type WorkOrderStatus string

const (
	WorkOrderCreated    WorkOrderStatus = "CREATED"
	WorkOrderReleased   WorkOrderStatus = "RELEASED"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
)

// Rollup 根据工序状态汇总工单状态，已取消的工单保持不变
func Rollup(current WorkOrderStatus, r Routing) WorkOrderStatus {
	if current == WorkOrderCancelled {
		return current
	}
	if r.AllComplete() {
		return WorkOrderCompleted
	}
	for _, op := range r.Operations {
		if op.Status.IsActive() {
			return WorkOrderInProgress
		}
	}
	if current == WorkOrderCompleted {
		// 通过覆盖重新打开了已完工工序
		return WorkOrderInProgress
	}
	return current
}

// Load 工作中心负载
type Load struct {
	Busy             bool // 有其他工序在调机或加工
	QueuedRunMinutes int  // 排队中工序的计划加工时间合计
}

// ApplyResources 在依赖就绪的基础上叠加工作中心与人员约束，只影响 CanDispatch
func ApplyResources(r Readiness, op Operation, load Load) Readiness {
	r.CanDispatch = r.IsReady
	if load.Busy {
		r.Constrain(BlockedWorkCenterBusy, load.QueuedRunMinutes)
	}
	if op.AssignedUserID == "" {
		r.Constrain(BlockedOperatorUnavailable, 0)
	}
	return r
}
