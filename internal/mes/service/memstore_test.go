package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/stretchr/testify/mock"
)

// memStore 内存实现的 routing.Store，LockRouting 可注入延迟并统计并发
type memStore struct {
	mu        sync.Mutex
	ops       map[string]routing.Operation
	deps      []routing.Dependency
	routings  map[string]string // routingID -> workOrderID
	woStatus  map[string]routing.WorkOrderStatus
	deleted   map[string]bool
	readiness map[string]routing.Readiness
	history   []routing.HistoryEntry
	loads     map[string]routing.Load

	delay       time.Duration
	failOn      string
	inflight    map[string]int
	maxInflight map[string]int
	total       int
	maxTotal    int
}

func newMemStore() *memStore {
	return &memStore{
		ops:         map[string]routing.Operation{},
		routings:    map[string]string{},
		woStatus:    map[string]routing.WorkOrderStatus{},
		deleted:     map[string]bool{},
		readiness:   map[string]routing.Readiness{},
		loads:       map[string]routing.Load{},
		inflight:    map[string]int{},
		maxInflight: map[string]int{},
	}
}

// addWorkOrder 每个工单一条路线，routingID = "rt-"+workOrderID
func (s *memStore) addWorkOrder(woID string, ops ...routing.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rtID := "rt-" + woID
	s.routings[rtID] = woID
	s.woStatus[woID] = routing.WorkOrderReleased
	for _, op := range ops {
		op.RoutingID = rtID
		op.WorkOrderID = woID
		if op.Status == "" {
			op.Status = routing.StatusPending
		}
		if op.WorkCenterID == "" {
			op.WorkCenterID = "wc-" + op.ID
		}
		s.ops[op.ID] = op
	}
}

func (s *memStore) status(id string) routing.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops[id].Status
}

func (s *memStore) ready(id string) routing.Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readiness[id]
}

func (s *memStore) maxConcurrent(woID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight[woID]
}

func (s *memStore) InTx(ctx context.Context, fn func(tx routing.Tx) error) error {
	tx := &memTx{s: s}
	err := fn(tx)
	if tx.workOrderID != "" {
		s.mu.Lock()
		s.inflight[tx.workOrderID]--
		s.total--
		s.mu.Unlock()
	}
	return err
}

type memTx struct {
	s           *memStore
	workOrderID string
}

func (t *memTx) Operation(id string) (routing.Operation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	op, ok := t.s.ops[id]
	if !ok {
		return routing.Operation{}, routing.ErrOperationNotFound
	}
	return op, nil
}

func (t *memTx) LockRouting(routingID string) (routing.Routing, error) {
	t.s.mu.Lock()
	woID, ok := t.s.routings[routingID]
	if !ok || t.s.deleted[woID] {
		t.s.mu.Unlock()
		return routing.Routing{}, routing.ErrOrphanedOperation
	}
	if t.workOrderID == "" {
		t.workOrderID = woID
		t.s.inflight[woID]++
		if t.s.inflight[woID] > t.s.maxInflight[woID] {
			t.s.maxInflight[woID] = t.s.inflight[woID]
		}
		t.s.total++
		if t.s.total > t.s.maxTotal {
			t.s.maxTotal = t.s.total
		}
	}
	delay := t.s.delay
	t.s.mu.Unlock()

	// 读取快照之前等待，放大并发写入的窗口
	if delay > 0 {
		time.Sleep(delay)
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r := routing.Routing{ID: routingID, WorkOrderID: woID, WorkOrderStatus: t.s.woStatus[woID]}
	for _, op := range t.s.ops {
		if op.RoutingID == routingID {
			r.Operations = append(r.Operations, op)
		}
	}
	sort.Slice(r.Operations, func(i, j int) bool {
		if r.Operations[i].Sequence != r.Operations[j].Sequence {
			return r.Operations[i].Sequence < r.Operations[j].Sequence
		}
		return r.Operations[i].ID < r.Operations[j].ID
	})
	for _, d := range t.s.deps {
		if op, ok := t.s.ops[d.OperationID]; ok && op.RoutingID == routingID {
			r.Dependencies = append(r.Dependencies, d)
		}
	}
	return r, nil
}

func (t *memTx) SaveStatus(op routing.Operation, actorID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.failOn == "SaveStatus" {
		return errStoreDown
	}
	if _, ok := t.s.ops[op.ID]; !ok {
		return routing.ErrOperationNotFound
	}
	t.s.ops[op.ID] = op
	return nil
}

func (t *memTx) ReadinessFlags(ids []string) (map[string]bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = t.s.readiness[id].IsReady
	}
	return out, nil
}

func (t *memTx) SaveReadiness(records []routing.Readiness) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.failOn == "SaveReadiness" {
		return errStoreDown
	}
	for _, r := range records {
		t.s.readiness[r.OperationID] = r
	}
	return nil
}

func (t *memTx) WorkCenterLoad(workCenterID, excludeOperationID string) (routing.Load, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.loads[workCenterID], nil
}

func (t *memTx) SetWorkOrderStatus(workOrderID string, status routing.WorkOrderStatus) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.woStatus[workOrderID] = status
	return nil
}

func (t *memTx) AppendHistory(e routing.HistoryEntry) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.history = append(t.s.history, e)
	return nil
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errStoreDown = storeError("connection refused")

// allowAll 测试用授权器
type allowAll struct{}

func (allowAll) Authorize(context.Context, Principal, string) error { return nil }

// mockAuthorizer testify mock
type mockAuthorizer struct {
	mock.Mock
}

func (m *mockAuthorizer) Authorize(ctx context.Context, p Principal, permission string) error {
	args := m.Called(ctx, p, permission)
	return args.Error(0)
}

// recordingPublisher 记录推送的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []sse.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sse.Event, len(p.events))
	copy(out, p.events)
	return out
}

// recordingNotifier 记录就绪通知
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) NotifyOperationsReady(_ context.Context, ids []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, ids...)
	return nil
}

func (n *recordingNotifier) IDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}
