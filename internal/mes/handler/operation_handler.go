package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// OperationHandler 工序接口
type OperationHandler struct {
	svc       *service.OperationService
	workOrder *service.WorkOrderService
}

func NewOperationHandler(svc *service.OperationService, workOrder *service.WorkOrderService) *OperationHandler {
	return &OperationHandler{svc: svc, workOrder: workOrder}
}

// UpdateStatusRequest 状态更新请求体
type UpdateStatusRequest struct {
	Status   string `json:"status" binding:"required"`
	Notes    string `json:"notes"`
	Override bool   `json:"override"`
}

// Get GET /operations/:id
func (h *OperationHandler) Get(c *gin.Context) {
	op, err := h.workOrder.GetOperation(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, op)
}

// UpdateStatus PUT /operations/:id/status
func (h *OperationHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.UpdateOperationStatus(c.Request.Context(), GetPrincipal(c), service.UpdateStatusRequest{
		OperationID: c.Param("id"),
		Status:      req.Status,
		Notes:       req.Notes,
		Override:    req.Override,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}

// UpdateQuantity PUT /operations/:id/quantity
func (h *OperationHandler) UpdateQuantity(c *gin.Context) {
	var req service.UpdateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	op, err := h.workOrder.UpdateOperationQuantity(c.Request.Context(), GetPrincipal(c), c.Param("id"), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, op)
}

// AssignRequest 指派请求体，user_id 为空表示取消指派
type AssignRequest struct {
	UserID string `json:"user_id"`
}

// Assign PUT /operations/:id/assignee
func (h *OperationHandler) Assign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	op, err := h.workOrder.AssignUserToOperation(c.Request.Context(), GetPrincipal(c), c.Param("id"), req.UserID)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, op)
}

// History GET /operations/:id/history
func (h *OperationHandler) History(c *gin.Context) {
	logs, err := h.workOrder.History(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// ListDependencies GET /operations/:id/dependencies
func (h *OperationHandler) ListDependencies(c *gin.Context) {
	deps, err := h.workOrder.ListDependencies(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": deps})
}

// AddDependency POST /operations/:id/dependencies
func (h *OperationHandler) AddDependency(c *gin.Context) {
	var req service.AddDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	dep, err := h.workOrder.AddDependency(c.Request.Context(), GetPrincipal(c), c.Param("id"), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, dep)
}

// Readiness GET /operations/:id/readiness
func (h *OperationHandler) Readiness(c *gin.Context) {
	rd, err := h.workOrder.OperationReadiness(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, rd)
}
