package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var operator = Principal{UserID: "u-operator", Name: "Operator"}

// abcStore A、B 为第10道并行工序，C 为第20道
func abcStore() *memStore {
	s := newMemStore()
	s.addWorkOrder("wo-1",
		routing.Operation{ID: "A", Sequence: 10, PlannedRunMinutes: 30},
		routing.Operation{ID: "B", Sequence: 10, PlannedRunMinutes: 45},
		routing.Operation{ID: "C", Sequence: 20, PlannedRunMinutes: 15},
	)
	return s
}

func newTestOperationService(store routing.Store) (*OperationService, *recordingPublisher, *recordingNotifier) {
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	svc := NewOperationService(store, allowAll{}, NewLocalLocker(), pub, nil)
	svc.SetReadyNotifier(notifier)
	return svc, pub, notifier
}

func update(t *testing.T, svc *OperationService, id, status string) *UpdateResult {
	t.Helper()
	res, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: id, Status: status})
	require.NoError(t, err)
	return res
}

func TestUpdateOperationStatus_ParallelTier(t *testing.T) {
	store := abcStore()
	svc, pub, notifier := newTestOperationService(store)

	update(t, svc, "A", "RUNNING")
	res := update(t, svc, "A", "COMPLETED")
	require.True(t, res.Changed)
	require.Len(t, res.Successors, 1)
	c := res.Successors[0]
	assert.Equal(t, "C", c.OperationID)
	assert.False(t, c.IsReady)
	assert.Equal(t, []string{"B"}, c.Blocking)
	assert.Equal(t, 45, c.EstimatedWaitMinutes)
	assert.Empty(t, res.BecameReady)
	assert.Equal(t, routing.StatusPending, store.status("B"))
	assert.Equal(t, routing.StatusPending, store.status("C"))

	update(t, svc, "B", "RUNNING")
	res = update(t, svc, "B", "COMPLETED")
	assert.Equal(t, []string{"C"}, res.BecameReady)
	assert.True(t, store.ready("C").IsReady)
	assert.Equal(t, []string{"C"}, notifier.IDs())
	assert.Equal(t, routing.StatusPending, store.status("C"))

	events := pub.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, sse.EventViewsStale, last.Type)
	assert.Contains(t, last.Views, "work-order:wo-1")
	assert.Contains(t, last.Views, "work-center:wc-C")
	assert.Contains(t, last.Views, "work-center:wc-B")

	// C 可以开工
	res = update(t, svc, "C", "RUNNING")
	assert.Equal(t, routing.WorkOrderInProgress, res.WorkOrderStatus)
	res = update(t, svc, "C", "COMPLETED")
	assert.Equal(t, routing.WorkOrderCompleted, res.WorkOrderStatus)
}

func TestUpdateOperationStatus_PredecessorNotReady(t *testing.T) {
	store := abcStore()
	svc, _, _ := newTestOperationService(store)

	_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "C", Status: "RUNNING"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, routing.ErrPredecessorNotReady))
	var te *routing.TransitionError
	require.True(t, errors.As(err, &te))
	assert.ElementsMatch(t, []string{"A", "B"}, te.Blocking)
	assert.Equal(t, routing.StatusPending, store.status("C"))
	assert.Empty(t, store.history)
}

func TestUpdateOperationStatus_Idempotent(t *testing.T) {
	store := abcStore()
	svc, pub, _ := newTestOperationService(store)

	update(t, svc, "A", "RUNNING")
	first := update(t, svc, "A", "COMPLETED")
	store.mu.Lock()
	completedAt := *store.ops["A"].CompletedAt
	historyLen := len(store.history)
	store.mu.Unlock()
	eventCount := len(pub.Events())

	again := update(t, svc, "A", "COMPLETED")
	assert.True(t, first.Changed)
	assert.False(t, again.Changed)
	assert.Equal(t, routing.StatusCompleted, again.Operation.Status)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, completedAt, *store.ops["A"].CompletedAt)
	assert.Len(t, store.history, historyLen)
	assert.Len(t, pub.Events(), eventCount)
}

func TestUpdateOperationStatus_ScrapWhileRunning(t *testing.T) {
	store := abcStore()
	svc, _, _ := newTestOperationService(store)

	update(t, svc, "A", "RUNNING")
	res := update(t, svc, "A", "SCRAPPED")
	assert.Equal(t, routing.StatusScrapped, store.status("A"))
	require.Len(t, res.Successors, 1)
	assert.Contains(t, res.Successors[0].BlockedReasons, routing.BlockedPredecessorScrapped)
}

func TestUpdateOperationStatus_BackTransition(t *testing.T) {
	store := abcStore()
	svc, _, _ := newTestOperationService(store)
	update(t, svc, "A", "RUNNING")
	update(t, svc, "A", "COMPLETED")

	_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING"})
	assert.True(t, errors.Is(err, routing.ErrIllegalBackTransition))
	assert.Equal(t, routing.StatusCompleted, store.status("A"))

	res, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING", Override: true})
	require.NoError(t, err)
	assert.True(t, res.Overridden)
	assert.Equal(t, routing.StatusRunning, store.status("A"))
	assert.True(t, store.history[len(store.history)-1].Overridden)
}

func TestUpdateOperationStatus_Locality(t *testing.T) {
	store := abcStore()
	store.addWorkOrder("wo-2", routing.Operation{ID: "X", Sequence: 10}, routing.Operation{ID: "Y", Sequence: 20})
	svc, _, _ := newTestOperationService(store)

	update(t, svc, "A", "RUNNING")
	update(t, svc, "A", "COMPLETED")

	assert.Equal(t, routing.StatusPending, store.status("X"))
	assert.Equal(t, routing.StatusPending, store.status("Y"))
	_, touched := store.readiness["Y"]
	assert.False(t, touched)
	assert.Equal(t, routing.WorkOrderReleased, store.woStatus["wo-2"])
}

func TestUpdateOperationStatus_Orphaned(t *testing.T) {
	store := abcStore()
	store.deleted["wo-1"] = true
	svc, pub, _ := newTestOperationService(store)

	res, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING"})
	require.NoError(t, err)
	assert.True(t, res.Orphaned)
	assert.False(t, res.Changed)
	assert.Equal(t, routing.StatusPending, store.status("A"))
	assert.Empty(t, pub.Events())
}

func TestUpdateOperationStatus_UnknownInputs(t *testing.T) {
	svc, _, _ := newTestOperationService(abcStore())

	_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "FINISHED"})
	assert.True(t, errors.Is(err, routing.ErrUnknownStatus))

	_, err = svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "nope", Status: "RUNNING"})
	assert.True(t, errors.Is(err, routing.ErrOperationNotFound))
}

func TestUpdateOperationStatus_PersistenceFailure(t *testing.T) {
	store := abcStore()
	store.failOn = "SaveReadiness"
	svc, pub, _ := newTestOperationService(store)

	_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistenceFailure))
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.True(t, errors.Is(err, errStoreDown))
	assert.Empty(t, pub.Events())
}

func TestUpdateOperationStatus_Authorization(t *testing.T) {
	store := abcStore()
	authz := &mockAuthorizer{}
	authz.On("Authorize", mock.Anything, operator, entity.PermWorkOrderUpdate).Return(nil)
	authz.On("Authorize", mock.Anything, operator, entity.PermWorkOrderOverride).Return(ErrUnauthorized)
	svc := NewOperationService(store, authz, nil, nil, nil)

	_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "C", Status: "RUNNING", Override: true})
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, routing.StatusPending, store.status("C"))

	_, err = svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING"})
	assert.NoError(t, err)
	authz.AssertExpectations(t)

	denied := &mockAuthorizer{}
	denied.On("Authorize", mock.Anything, mock.Anything, entity.PermWorkOrderUpdate).Return(ErrUnauthorized)
	svc = NewOperationService(store, denied, nil, nil, nil)
	_, err = svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "B", Status: "RUNNING"})
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, routing.StatusPending, store.status("B"))

	// 无权限的调用方看不到状态值校验结果
	_, err = svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "B", Status: "FINISHED"})
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, routing.ErrUnknownStatus))
}

func TestUpdateOperationStatus_CannotCompleteWithoutStarting(t *testing.T) {
	store := abcStore()
	svc, pub, notifier := newTestOperationService(store)

	_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "C", Status: "PAUSED"})
	assert.True(t, errors.Is(err, routing.ErrInvalidTransition))

	// 即使配置允许未开工直接暂停，完工仍然检查前置工序
	table, err := routing.ParseTransitions(map[string][]string{"PENDING": {"PAUSED"}, "PAUSED": {"COMPLETED"}})
	require.NoError(t, err)
	svc.SetTransitions(table)
	update(t, svc, "C", "PAUSED")

	_, err = svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "C", Status: "COMPLETED"})
	require.True(t, errors.Is(err, routing.ErrPredecessorNotReady))
	var te *routing.TransitionError
	require.True(t, errors.As(err, &te))
	assert.ElementsMatch(t, []string{"A", "B"}, te.Blocking)

	store.mu.Lock()
	c := store.ops["C"]
	store.mu.Unlock()
	assert.Equal(t, routing.StatusPaused, c.Status)
	assert.Nil(t, c.StartedAt)
	assert.Nil(t, c.CompletedAt)
	assert.Len(t, pub.Events(), 1)
	assert.Empty(t, notifier.IDs())
}

func TestUpdateOperationStatus_UnassignedSuccessorBecomesReady(t *testing.T) {
	store := abcStore()
	store.loads["wc-C"] = routing.Load{Busy: true, QueuedRunMinutes: 20}
	svc, _, notifier := newTestOperationService(store)

	update(t, svc, "A", "RUNNING")
	update(t, svc, "A", "COMPLETED")
	update(t, svc, "B", "RUNNING")
	res := update(t, svc, "B", "COMPLETED")

	assert.Equal(t, []string{"C"}, res.BecameReady)
	assert.Equal(t, []string{"C"}, notifier.IDs())
	c := store.ready("C")
	assert.True(t, c.IsReady)
	assert.False(t, c.CanDispatch)
	assert.ElementsMatch(t, []routing.BlockedReason{routing.BlockedWorkCenterBusy, routing.BlockedOperatorUnavailable}, c.BlockedReasons)
	assert.Equal(t, routing.StatusPending, store.status("C"))
}

func TestUpdateOperationStatus_CustomTransitions(t *testing.T) {
	store := abcStore()
	svc, _, _ := newTestOperationService(store)
	table, err := routing.ParseTransitions(map[string][]string{"PENDING": {"SETUP"}, "SETUP": {"RUNNING"}})
	require.NoError(t, err)
	svc.SetTransitions(table)

	_, err = svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING"})
	assert.True(t, errors.Is(err, routing.ErrInvalidTransition))
	update(t, svc, "A", "SETUP")
	update(t, svc, "A", "RUNNING")
}

func TestUpdateOperationStatus_SameWorkOrderSerialized(t *testing.T) {
	store := abcStore()
	store.delay = 50 * time.Millisecond
	svc, _, _ := newTestOperationService(store)
	update(t, svc, "A", "RUNNING")
	update(t, svc, "B", "RUNNING")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: id, Status: "COMPLETED"})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, store.maxConcurrent("wo-1"))
	// 第二个完成的更新必须看到第一个的结果
	assert.True(t, store.ready("C").IsReady)
}

func TestUpdateOperationStatus_DifferentWorkOrdersParallel(t *testing.T) {
	store := newMemStore()
	store.addWorkOrder("wo-1", routing.Operation{ID: "A1", Sequence: 10}, routing.Operation{ID: "B1", Sequence: 20})
	store.addWorkOrder("wo-2", routing.Operation{ID: "A2", Sequence: 10}, routing.Operation{ID: "B2", Sequence: 20})
	store.delay = 200 * time.Millisecond
	svc, _, _ := newTestOperationService(store)

	start := time.Now()
	var wg sync.WaitGroup
	for _, id := range []string{"A1", "A2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.UpdateOperationStatus(context.Background(), operator, UpdateStatusRequest{OperationID: id, Status: "RUNNING"})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	store.mu.Lock()
	maxTotal := store.maxTotal
	store.mu.Unlock()
	assert.Equal(t, 2, maxTotal)
	assert.Less(t, time.Since(start), 390*time.Millisecond)
	assert.Equal(t, 1, store.maxConcurrent("wo-1"))
	assert.Equal(t, 1, store.maxConcurrent("wo-2"))
}

func TestUpdateOperationStatus_LockContextCancelled(t *testing.T) {
	store := abcStore()
	locker := NewLocalLocker()
	svc := NewOperationService(store, allowAll{}, locker, nil, nil)

	unlock, err := locker.Lock(context.Background(), workOrderLockKey("wo-1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = svc.UpdateOperationStatus(ctx, operator, UpdateStatusRequest{OperationID: "A", Status: "RUNNING"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistenceFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWorkCenterOf(t *testing.T) {
	wc, ok := workCenterOf(routing.WorkCenterView("wc-1"))
	assert.True(t, ok)
	assert.Equal(t, "wc-1", wc)

	_, ok = workCenterOf(routing.WorkOrderView("wo-1"))
	assert.False(t, ok)
	_, ok = workCenterOf(routing.ViewSchedule)
	assert.False(t, ok)
}
