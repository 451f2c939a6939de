package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// WorkOrderHandler 工单接口
type WorkOrderHandler struct {
	svc *service.WorkOrderService
}

func NewWorkOrderHandler(svc *service.WorkOrderService) *WorkOrderHandler {
	return &WorkOrderHandler{svc: svc}
}

// Create POST /work-orders
func (h *WorkOrderHandler) Create(c *gin.Context) {
	var req service.CreateWorkOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	wo, err := h.svc.CreateWorkOrderWithRouting(c.Request.Context(), GetPrincipal(c), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, wo)
}

// List GET /work-orders
func (h *WorkOrderHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filter := repository.WorkOrderFilter{
		Status:  c.Query("status"),
		PartID:  c.Query("part_id"),
		Keyword: c.Query("keyword"),
	}
	items, total, err := h.svc.List(c.Request.Context(), GetPrincipal(c), filter, page, pageSize)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages(total, pageSize),
		},
	})
}

// Get GET /work-orders/:id
func (h *WorkOrderHandler) Get(c *gin.Context) {
	wo, err := h.svc.Get(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, wo)
}

// Delete DELETE /work-orders/:id
func (h *WorkOrderHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), GetPrincipal(c), c.Param("id")); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}

// Readiness GET /work-orders/:id/readiness
func (h *WorkOrderHandler) Readiness(c *gin.Context) {
	records, err := h.svc.WorkOrderReadiness(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": records})
}

// Recalculate POST /work-orders/:id/readiness/recalculate
func (h *WorkOrderHandler) Recalculate(c *gin.Context) {
	result, err := h.svc.RecalculateReadiness(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}
