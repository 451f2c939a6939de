package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "nimo-mes-test-secret"

// SetupTestDB 为每个测试创建独立的 SQLite 数据库文件并迁移全部表
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "mes.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// SQLite 只允许一个写连接
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter 创建测试路由
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup 创建带 JWT 认证的路由组
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken 生成测试令牌
func GenerateTestToken(userID, name string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-mes",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	return token
}

// DefaultTestToken 管理员令牌
func DefaultTestToken() string {
	return GenerateTestToken("test-admin", "Test Admin", []string{middleware.AdminRole}, []string{entity.PermAll})
}

// DoRequest 发送 JSON 请求
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, _ := json.Marshal(body)
		buf = bytes.NewBuffer(data)
	}
	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse 解析 {code,message,data} 响应
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedTestUser 创建测试用户
func SeedTestUser(t *testing.T, db *gorm.DB, id, name string) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:       id,
		Username: "user_" + id,
		Name:     name,
		Email:    id + "@test.local",
		Status:   "active",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed test user: %v", err)
	}
	return user
}

// SeedUserWithPermissions 创建带角色和权限的用户
func SeedUserWithPermissions(t *testing.T, db *gorm.DB, id string, perms ...string) *entity.User {
	t.Helper()
	user := SeedTestUser(t, db, id, "User "+id)
	role := entity.Role{ID: uuid.NewString(), Code: "role_" + id, Name: "Role " + id}
	for _, code := range perms {
		var p entity.Permission
		if err := db.Where(entity.Permission{Code: code}).
			Attrs(entity.Permission{ID: uuid.NewString(), Name: code}).
			FirstOrCreate(&p).Error; err != nil {
			t.Fatalf("Failed to seed permission: %v", err)
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := db.Create(&role).Error; err != nil {
		t.Fatalf("Failed to seed role: %v", err)
	}
	if err := db.Model(user).Association("Roles").Append(&role); err != nil {
		t.Fatalf("Failed to assign role: %v", err)
	}
	return user
}

// SeedWorkCenter 创建工作中心
func SeedWorkCenter(t *testing.T, db *gorm.DB, id string) *entity.WorkCenter {
	t.Helper()
	wc := &entity.WorkCenter{ID: id, Code: "WC-" + id, Name: "Work center " + id, Capacity: 1, Status: "active"}
	if err := db.Create(wc).Error; err != nil {
		t.Fatalf("Failed to seed work center: %v", err)
	}
	return wc
}

// OpSpec 测试工序定义
type OpSpec struct {
	ID           string
	Sequence     int
	WorkCenterID string
	Status       string
	AssignedTo   string
	RunMinutes   int
	Priority     int
}

// SeededWorkOrder 测试工单
type SeededWorkOrder struct {
	WorkOrder  *entity.WorkOrder
	Routing    *entity.WorkOrderRouting
	Operations map[string]*entity.WorkOrderOperation
}

// SeedWorkOrder 创建一个工单、工单路线与工序。工作中心不存在时自动创建。
func SeedWorkOrder(t *testing.T, db *gorm.DB, id string, ops ...OpSpec) *SeededWorkOrder {
	t.Helper()
	part := &entity.Part{ID: "part-" + id, PartNumber: "PN-" + id, Name: "Part " + id}
	if err := db.Create(part).Error; err != nil {
		t.Fatalf("Failed to seed part: %v", err)
	}
	wo := &entity.WorkOrder{
		ID:        id,
		Number:    "WO-" + id,
		PartID:    part.ID,
		Quantity:  1,
		Status:    "RELEASED",
		CreatedBy: "test-admin",
	}
	if err := db.Create(wo).Error; err != nil {
		t.Fatalf("Failed to seed work order: %v", err)
	}
	rt := &entity.WorkOrderRouting{ID: "rt-" + id, WorkOrderID: id, Version: 1}
	if err := db.Create(rt).Error; err != nil {
		t.Fatalf("Failed to seed routing: %v", err)
	}

	out := &SeededWorkOrder{WorkOrder: wo, Routing: rt, Operations: map[string]*entity.WorkOrderOperation{}}
	for _, def := range ops {
		if def.WorkCenterID == "" {
			def.WorkCenterID = "wc-default"
		}
		var count int64
		db.Model(&entity.WorkCenter{}).Where("id = ?", def.WorkCenterID).Count(&count)
		if count == 0 {
			SeedWorkCenter(t, db, def.WorkCenterID)
		}
		status := def.Status
		if status == "" {
			status = "PENDING"
		}
		op := &entity.WorkOrderOperation{
			ID:                def.ID,
			RoutingID:         rt.ID,
			WorkOrderID:       id,
			Sequence:          def.Sequence,
			Name:              "Op " + def.ID,
			WorkCenterID:      def.WorkCenterID,
			Status:            status,
			Priority:          def.Priority,
			PlannedRunMinutes: def.RunMinutes,
			PlannedQty:        1,
		}
		if def.AssignedTo != "" {
			assignee := def.AssignedTo
			op.AssignedUserID = &assignee
		}
		if err := db.Create(op).Error; err != nil {
			t.Fatalf("Failed to seed operation: %v", err)
		}
		out.Operations[def.ID] = op
	}
	return out
}
