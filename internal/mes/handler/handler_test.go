package handler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	hub    *sse.Hub
	token  string
}

func setupHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	hub := sse.NewHub(nil)
	svcs := service.NewServices(repos, nil, hub, service.Options{}, nil)
	health := NewHealthHandler("test", "now", map[string]Checker{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	h := NewHandlers(svcs, hub, health, nil)

	r := testutil.SetupRouter()
	RegisterRoutes(r, h, testutil.JWTSecret)

	testutil.SeedTestUser(t, db, "worker1", "Worker One")
	testutil.SeedWorkOrder(t, db, "wo-1",
		testutil.OpSpec{ID: "A", Sequence: 10, WorkCenterID: "wc-a", AssignedTo: "worker1", RunMinutes: 30},
		testutil.OpSpec{ID: "B", Sequence: 10, WorkCenterID: "wc-b", AssignedTo: "worker1", RunMinutes: 45},
		testutil.OpSpec{ID: "C", Sequence: 20, WorkCenterID: "wc-c", AssignedTo: "worker1", RunMinutes: 15},
	)
	return &testEnv{router: r, db: db, hub: hub, token: testutil.DefaultTestToken()}
}

func (e *testEnv) setStatus(t *testing.T, id, status string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(e.router, "PUT", "/api/v1/mes/operations/"+id+"/status", map[string]interface{}{"status": status}, e.token)
}

func TestOperationHandler_UpdateStatus(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.setStatus(t, "A", "RUNNING")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.ParseResponse(w)
	assert.Equal(t, float64(0), resp["code"])
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, true, data["changed"])
	assert.Equal(t, "PENDING", data["previous_status"])
	assert.Equal(t, "IN_PROGRESS", data["work_order_status"])
	assert.Contains(t, data["stale_views"], "work-order:wo-1")
	assert.Contains(t, data["stale_views"], "work-center:wc-a")

	w = env.setStatus(t, "A", "COMPLETED")
	require.Equal(t, http.StatusOK, w.Code)
	env.setStatus(t, "B", "RUNNING")
	w = env.setStatus(t, "B", "COMPLETED")
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"C"}, data["became_ready"])
}

func TestOperationHandler_ErrorMapping(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.setStatus(t, "C", "RUNNING")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := testutil.ParseResponse(w)
	assert.Equal(t, float64(CodePredecessorNotReady), resp["code"])
	data := resp["data"].(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"A", "B"}, data["blocking"])

	env.setStatus(t, "A", "RUNNING")
	env.setStatus(t, "A", "COMPLETED")
	w = env.setStatus(t, "A", "PENDING")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, float64(CodeIllegalBack), testutil.ParseResponse(w)["code"])

	w = env.setStatus(t, "B", "COMPLETED")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, float64(CodeInvalidTransition), testutil.ParseResponse(w)["code"])

	w = env.setStatus(t, "B", "DONE")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(CodeUnknownStatus), testutil.ParseResponse(w)["code"])

	w = env.setStatus(t, "missing", "RUNNING")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/A/status", map[string]interface{}{}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/A/status", map[string]interface{}{"status": "RUNNING"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	reader := testutil.GenerateTestToken("viewer", "Viewer", nil, []string{entity.PermWorkOrderRead})
	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/B/status", map[string]interface{}{"status": "RUNNING"}, reader)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(CodeForbidden), testutil.ParseResponse(w)["code"])
}

func TestOperationHandler_OverrideRequiresPermission(t *testing.T) {
	env := setupHandlerTest(t)
	planner := testutil.GenerateTestToken("planner", "Planner", nil, []string{entity.PermWorkOrderUpdate})
	body := map[string]interface{}{"status": "RUNNING", "override": true}

	w := testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/C/status", body, planner)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/C/status", body, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, true, data["overridden"])
}

func TestOperationHandler_PersistenceFailure(t *testing.T) {
	env := setupHandlerTest(t)
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := env.setStatus(t, "A", "RUNNING")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, float64(CodeUnavailable), testutil.ParseResponse(w)["code"])
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = testutil.DoRequest(env.router, "GET", "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOperationHandler_OrphanedAfterDelete(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "DELETE", "/api/v1/mes/work-orders/wo-1", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.setStatus(t, "A", "RUNNING")
	require.Equal(t, http.StatusOK, w.Code)
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, true, data["orphaned"])
	assert.Equal(t, false, data["changed"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/wo-1", nil, env.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOperationHandler_Details(t *testing.T) {
	env := setupHandlerTest(t)
	env.setStatus(t, "A", "RUNNING")

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/operations/A/history", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	assert.Len(t, items, 1)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/operations/C/dependencies", map[string]interface{}{"depends_on_id": "A"}, env.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/operations/A/dependencies", map[string]interface{}{"depends_on_id": "C"}, env.token)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, float64(CodeInvalidDependency), testutil.ParseResponse(w)["code"])

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/operations/C/readiness", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, false, data["is_ready"])
	assert.Equal(t, false, data["can_dispatch"])

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/A/quantity", map[string]interface{}{"completed_qty": 1}, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/A/quantity", map[string]interface{}{"completed_qty": 5}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/operations/B/assignee", map[string]interface{}{"user_id": "worker1"}, env.token)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWorkOrderHandler_CreateAndList(t *testing.T) {
	env := setupHandlerTest(t)
	require.NoError(t, env.db.Create(&entity.Part{ID: "part-x", PartNumber: "PN-X", Name: "Shaft"}).Error)
	require.NoError(t, env.db.Create(&entity.Routing{
		ID: "tmpl-x", PartID: "part-x", Name: "Shaft", Revision: "A", IsActive: true,
		Steps: []entity.RoutingStep{
			{ID: "sx1", Sequence: 10, Name: "Turn", WorkCenterID: "wc-a", RunMinutes: 3},
			{ID: "sx2", Sequence: 20, Name: "Grind", WorkCenterID: "wc-b", RunMinutes: 2},
		},
	}).Error)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders", map[string]interface{}{"part_id": "part-x", "quantity": 4}, env.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, "RELEASED", data["status"])
	woID := data["id"].(string)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders", map[string]interface{}{"part_id": "part-1", "quantity": 1}, env.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders", map[string]interface{}{"part_id": "part-x"}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders?page=1&page_size=1", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	list := testutil.ParseResponse(w)["data"].(map[string]interface{})
	pagination := list["pagination"].(map[string]interface{})
	assert.Equal(t, float64(2), pagination["total"])
	assert.Equal(t, float64(2), pagination["total_pages"])
	assert.Len(t, list["items"], 1)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/"+woID+"/readiness", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	assert.Len(t, items, 2)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/wo-1/readiness/recalculate", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Len(t, result, 3)
}

func TestWorkCenterHandler_QueueAndExport(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-centers/wc-a/ready", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	assert.Len(t, items, 1)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-centers/wc-a/queue/rebuild", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-centers/wc-a/queue", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	items = testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-centers/wc-a/operations?status=pending,running", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-centers/wc-a/queue/export", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Queue_WC-wc-a_")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-centers/nope/queue", nil, env.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPartHandler_ImportRouting(t *testing.T) {
	env := setupHandlerTest(t)
	csv := "seq,code,name,wc,setup,run\n10,CUT,Cut,WC-wc-a,5,1.5\n20,WLD,Weld,WC-wc-b,10,2\n"

	req, _ := http.NewRequest("POST", "/api/v1/mes/parts/part-wo-1/routings/import?name=v2", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["created"])

	bad := "seq,code,name,wc,setup,run\nx,CUT,Cut,WC-wc-a,5,1\n"
	req, _ = http.NewRequest("POST", "/api/v1/mes/parts/part-wo-1/routings/import", strings.NewReader(bad))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+env.token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["errors"])
}

func TestNotificationHandler(t *testing.T) {
	env := setupHandlerTest(t)
	env.setStatus(t, "A", "RUNNING")
	env.setStatus(t, "A", "COMPLETED")
	env.setStatus(t, "B", "RUNNING")
	env.setStatus(t, "B", "COMPLETED")

	worker := testutil.GenerateTestToken("worker1", "Worker One", nil, nil)
	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/notifications?unread=true", nil, worker)
	require.Equal(t, http.StatusOK, w.Code)
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)
	id := items[0].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/notifications/"+id+"/read", nil, worker)
	assert.Equal(t, http.StatusOK, w.Code)
	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/notifications/"+id+"/read", nil, env.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_RequiresAdminRole(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/mes/admin/permissions/worker1/invalidate", nil, env.token)
	assert.Equal(t, http.StatusOK, w.Code)

	planner := testutil.GenerateTestToken("planner", "Planner", []string{"planner"}, []string{entity.PermAll})
	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/admin/permissions/worker1/invalidate", nil, planner)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthHandler(t *testing.T) {
	r := testutil.SetupRouter()
	h := NewHealthHandler("1.2.3", "today", map[string]Checker{
		"redis": func(context.Context) error { return errors.New("down") },
	})
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)
	r.GET("/version", h.Version)

	w := testutil.DoRequest(r, "GET", "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = testutil.DoRequest(r, "GET", "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")
	w = testutil.DoRequest(r, "GET", "/version", nil, "")
	assert.Equal(t, "1.2.3", testutil.ParseResponse(w)["version"])
}

func TestSSEHandler_Stream(t *testing.T) {
	env := setupHandlerTest(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/mes/sse/events?views=work-center:wc-a&token="+env.token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// 其他视图的事件不推送
	require.NoError(t, env.hub.Publish(ctx, sse.Event{Type: sse.EventViewsStale, Views: []string{"work-center:wc-b"}}))
	w := env.setStatus(t, "A", "RUNNING")
	require.Equal(t, http.StatusOK, w.Code)

	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			got = append(got, line)
			if strings.HasPrefix(line, "data:") && strings.Contains(line, "work-center:wc-a") {
				assert.Contains(t, got, "event: connected")
				assert.Contains(t, got, "event: views_stale")
				for _, l := range got {
					assert.NotContains(t, l, "work-center:wc-b\"]")
				}
				cancel()
				return
			}
		case <-timeout:
			t.Fatalf("no views_stale event received, got %v", got)
		}
	}
}
