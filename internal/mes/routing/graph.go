package routing

import (
	"sort"
	"time"
)

// DependencyType 工序依赖类型
type DependencyType string

const (
	DependencyFinishToStart  DependencyType = "FS"
	DependencyStartToStart   DependencyType = "SS"
	DependencyFinishToFinish DependencyType = "FF"
	DependencyStartToFinish  DependencyType = "SF"
)

func (t DependencyType) Valid() bool {
	switch t {
	case DependencyFinishToStart, DependencyStartToStart, DependencyFinishToFinish, DependencyStartToFinish:
		return true
	}
	return false
}

// Operation 工艺路线中的一道工序（只读快照）
type Operation struct {
	ID                  string     `json:"id"`
	RoutingID           string     `json:"routing_id"`
	WorkOrderID         string     `json:"work_order_id"`
	Sequence            int        `json:"sequence"`
	Name                string     `json:"name"`
	Status              Status     `json:"status"`
	WorkCenterID        string     `json:"work_center_id"`
	AssignedUserID      string     `json:"assigned_user_id,omitempty"`
	PlannedSetupMinutes int        `json:"planned_setup_minutes"`
	PlannedRunMinutes   int        `json:"planned_run_minutes"`
	StartedAt           *time.Time `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

func (o Operation) Timestamps() Timestamps {
	return Timestamps{StartedAt: o.StartedAt, CompletedAt: o.CompletedAt}
}

// Dependency 显式依赖: OperationID 依赖 DependsOnID
type Dependency struct {
	OperationID string
	DependsOnID string
	Type        DependencyType
	LagMinutes  int
}

// Predecessor 前置工序及其依赖关系
type Predecessor struct {
	Operation
	Type       DependencyType
	LagMinutes int
}

// SatisfiesStart 前置工序是否允许当前工序开工
func (p Predecessor) SatisfiesStart() bool {
	switch p.Type {
	case DependencyStartToStart:
		return p.Status.IsActive() || p.Status == StatusPaused || p.Status.IsComplete()
	case DependencyFinishToFinish, DependencyStartToFinish:
		// 只约束完工，不阻止开工
		return true
	default:
		return p.Status.IsComplete()
	}
}

// Routing 一个工单的工艺路线快照
type Routing struct {
	ID              string
	WorkOrderID     string
	WorkOrderStatus WorkOrderStatus
	Version         int
	Operations      []Operation
	Dependencies    []Dependency
}

// Operation 按ID查找工序
func (r Routing) Operation(id string) (Operation, bool) {
	for _, op := range r.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// tiers 返回去重升序的工序号
func (r Routing) tiers() []int {
	seen := make(map[int]bool, len(r.Operations))
	var out []int
	for _, op := range r.Operations {
		if !seen[op.Sequence] {
			seen[op.Sequence] = true
			out = append(out, op.Sequence)
		}
	}
	sort.Ints(out)
	return out
}

// previousTier 紧邻的上一层工序号，不存在时 ok=false
func previousTier(tiers []int, seq int) (int, bool) {
	idx := sort.SearchInts(tiers, seq)
	if idx == 0 {
		return 0, false
	}
	return tiers[idx-1], true
}

func (r Routing) explicitDeps(id string) []Dependency {
	var deps []Dependency
	for _, d := range r.Dependencies {
		if d.OperationID == id {
			deps = append(deps, d)
		}
	}
	return deps
}

// Predecessors 直接前置工序。
// 有显式依赖时只使用显式依赖；否则为上一工序号层级中的全部工序（并行工序共享层级），依赖类型 FS。
func (r Routing) Predecessors(id string) []Predecessor {
	op, ok := r.Operation(id)
	if !ok {
		return nil
	}
	if deps := r.explicitDeps(id); len(deps) > 0 {
		preds := make([]Predecessor, 0, len(deps))
		for _, d := range deps {
			dep, found := r.Operation(d.DependsOnID)
			if !found {
				continue
			}
			typ := d.Type
			if !typ.Valid() {
				typ = DependencyFinishToStart
			}
			preds = append(preds, Predecessor{Operation: dep, Type: typ, LagMinutes: d.LagMinutes})
		}
		return preds
	}

	prev, ok := previousTier(r.tiers(), op.Sequence)
	if !ok {
		return nil
	}
	var preds []Predecessor
	for _, o := range r.sorted() {
		if o.Sequence == prev {
			preds = append(preds, Predecessor{Operation: o, Type: DependencyFinishToStart})
		}
	}
	return preds
}

// Successors 直接后续工序：所有把 id 作为直接前置的工序
func (r Routing) Successors(id string) []Operation {
	op, ok := r.Operation(id)
	if !ok {
		return nil
	}
	tiers := r.tiers()
	var out []Operation
	for _, x := range r.sorted() {
		if x.ID == id {
			continue
		}
		if deps := r.explicitDeps(x.ID); len(deps) > 0 {
			for _, d := range deps {
				if d.DependsOnID == id {
					out = append(out, x)
					break
				}
			}
			continue
		}
		if prev, ok := previousTier(tiers, x.Sequence); ok && prev == op.Sequence {
			out = append(out, x)
		}
	}
	return out
}

// sorted 按工序号、ID 排序的副本
func (r Routing) sorted() []Operation {
	ops := make([]Operation, len(r.Operations))
	copy(ops, r.Operations)
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Sequence != ops[j].Sequence {
			return ops[i].Sequence < ops[j].Sequence
		}
		return ops[i].ID < ops[j].ID
	})
	return ops
}

// WithStatus 返回把 id 工序替换为新状态后的快照
func (r Routing) WithStatus(id string, status Status, ts Timestamps) Routing {
	next := r
	next.Operations = make([]Operation, len(r.Operations))
	copy(next.Operations, r.Operations)
	for i := range next.Operations {
		if next.Operations[i].ID == id {
			next.Operations[i].Status = status
			next.Operations[i].StartedAt = ts.StartedAt
			next.Operations[i].CompletedAt = ts.CompletedAt
		}
	}
	return next
}

// AllComplete 全部工序完成或跳过
func (r Routing) AllComplete() bool {
	if len(r.Operations) == 0 {
		return false
	}
	for _, op := range r.Operations {
		if !op.Status.IsComplete() {
			return false
		}
	}
	return true
}
