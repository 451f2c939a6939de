package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 处理器集合
type Handlers struct {
	Operation    *OperationHandler
	WorkOrder    *WorkOrderHandler
	WorkCenter   *WorkCenterHandler
	Part         *PartHandler
	Notification *NotificationHandler
	SSE          *SSEHandler
	Health       *HealthHandler
	Admin        *AdminHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub, health *HealthHandler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Operation:    NewOperationHandler(svc.Operation, svc.WorkOrder),
		WorkOrder:    NewWorkOrderHandler(svc.WorkOrder),
		WorkCenter:   NewWorkCenterHandler(svc.WorkOrder, svc.Export),
		Part:         NewPartHandler(svc.Import),
		Notification: NewNotificationHandler(svc.Notification),
		SSE:          NewSSEHandler(hub, logger),
		Health:       health,
		Admin:        NewAdminHandler(svc.Authz),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// 业务错误码，HTTP 状态码为 code/100
const (
	CodeBadRequest          = 40000
	CodeUnknownStatus       = 40001
	CodeForbidden           = 40300
	CodeNotFound            = 40400
	CodePredecessorNotReady = 42201
	CodeIllegalBack         = 42202
	CodeInvalidTransition   = 42203
	CodeInvalidDependency   = 42204
	CodeNoActiveRouting     = 42205
	CodeInternal            = 50000
	CodeUnavailable         = 50300
)

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带附加数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, CodeBadRequest, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

// HandleError 把服务层错误映射为响应
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)

	var te *routing.TransitionError
	if errors.As(err, &te) {
		data := gin.H{"from": te.From, "to": te.To}
		code := CodeInvalidTransition
		switch {
		case errors.Is(err, routing.ErrPredecessorNotReady):
			code = CodePredecessorNotReady
			data["blocking"] = te.Blocking
		case errors.Is(err, routing.ErrIllegalBackTransition):
			code = CodeIllegalBack
		}
		ErrorWithData(c, code, err.Error(), data)
		return
	}

	switch {
	case errors.Is(err, service.ErrUnauthorized):
		Error(c, CodeForbidden, err.Error())
	case errors.Is(err, routing.ErrUnknownStatus):
		Error(c, CodeUnknownStatus, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		Error(c, CodeBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidDependency):
		Error(c, CodeInvalidDependency, err.Error())
	case errors.Is(err, service.ErrNoActiveRouting):
		Error(c, CodeNoActiveRouting, err.Error())
	case errors.Is(err, routing.ErrOperationNotFound), errors.Is(err, repository.ErrNotFound):
		Error(c, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrPersistenceFailure):
		c.Header("Retry-After", "1")
		Error(c, CodeUnavailable, "存储暂不可用，请重试")
	default:
		InternalError(c, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserID)
}

// GetPrincipal 从认证上下文构造调用者
func GetPrincipal(c *gin.Context) service.Principal {
	return service.Principal{
		UserID:      c.GetString(middleware.CtxUserID),
		Name:        c.GetString(middleware.CtxUserName),
		Roles:       c.GetStringSlice(middleware.CtxRoles),
		Permissions: c.GetStringSlice(middleware.CtxPermissions),
	}
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

func totalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
