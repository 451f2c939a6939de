package routing

// BlockedReason 工序未就绪原因
type BlockedReason string

const (
	BlockedWaitingPredecessor  BlockedReason = "WAITING_PREDECESSOR"
	BlockedPredecessorScrapped BlockedReason = "PREDECESSOR_SCRAPPED"
	BlockedWorkCenterBusy      BlockedReason = "WORK_CENTER_BUSY"
	BlockedOperatorUnavailable BlockedReason = "OPERATOR_UNAVAILABLE"
)

// Readiness 工序就绪状态。
// IsReady 只由前置工序决定；CanDispatch 另外要求工作中心空闲且已指派操作员，
// WORK_CENTER_BUSY 与 OPERATOR_UNAVAILABLE 只影响 CanDispatch。
type Readiness struct {
	OperationID          string          `json:"operation_id"`
	WorkCenterID         string          `json:"work_center_id"`
	IsReady              bool            `json:"is_ready"`
	CanDispatch          bool            `json:"can_dispatch"`
	BlockedReasons       []BlockedReason `json:"blocked_reasons"`
	Blocking             []string        `json:"blocking,omitempty"`
	EstimatedWaitMinutes int             `json:"estimated_wait_minutes"`
}

// Block 追加一个前置工序阻塞原因，等待时间取最大值
func (r *Readiness) Block(reason BlockedReason, waitMinutes int) {
	r.IsReady = false
	r.Constrain(reason, waitMinutes)
}

// Constrain 追加一个资源约束，不改变 IsReady
func (r *Readiness) Constrain(reason BlockedReason, waitMinutes int) {
	r.CanDispatch = false
	if !r.HasReason(reason) {
		r.BlockedReasons = append(r.BlockedReasons, reason)
	}
	if waitMinutes > r.EstimatedWaitMinutes {
		r.EstimatedWaitMinutes = waitMinutes
	}
}

func (r Readiness) HasReason(reason BlockedReason) bool {
	for _, existing := range r.BlockedReasons {
		if existing == reason {
			return true
		}
	}
	return false
}

// Evaluate 仅根据前置工序计算就绪状态
func Evaluate(r Routing, id string) (Readiness, error) {
	op, ok := r.Operation(id)
	if !ok {
		return Readiness{}, ErrOrphanedOperation
	}
	return evaluate(r, op), nil
}

func evaluate(r Routing, op Operation) Readiness {
	res := Readiness{OperationID: op.ID, WorkCenterID: op.WorkCenterID, IsReady: true, CanDispatch: true}
	for _, p := range r.Predecessors(op.ID) {
		if p.SatisfiesStart() {
			continue
		}
		res.Blocking = append(res.Blocking, p.ID)
		wait := 0
		if p.Type == DependencyFinishToStart {
			wait = p.PlannedRunMinutes + p.LagMinutes
		}
		if p.Status == StatusScrapped {
			res.Block(BlockedPredecessorScrapped, wait)
		} else {
			res.Block(BlockedWaitingPredecessor, wait)
		}
	}
	if res.BlockedReasons == nil {
		res.BlockedReasons = []BlockedReason{}
	}
	return res
}

// Propagation 一次状态变化后直接后续工序的就绪结果
type Propagation struct {
	ChangedID  string
	Successors []Readiness
}

// Propagate 重新计算 changedID 的直接后续工序的就绪状态。
// 只做局部计算，不修改任何工序状态。
func Propagate(r Routing, changedID string) (Propagation, error) {
	if _, ok := r.Operation(changedID); !ok {
		return Propagation{}, ErrOrphanedOperation
	}
	p := Propagation{ChangedID: changedID}
	for _, succ := range r.Successors(changedID) {
		p.Successors = append(p.Successors, evaluate(r, succ))
	}
	return p, nil
}

// Transitions 与之前的就绪标志比较，返回新就绪和新阻塞的工序
func (p Propagation) Transitions(previous map[string]bool) (becameReady, becameBlocked []string) {
	for _, s := range p.Successors {
		was := previous[s.OperationID]
		switch {
		case s.IsReady && !was:
			becameReady = append(becameReady, s.OperationID)
		case !s.IsReady && was:
			becameBlocked = append(becameBlocked, s.OperationID)
		}
	}
	return becameReady, becameBlocked
}
