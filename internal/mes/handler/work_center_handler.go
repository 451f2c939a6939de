package handler

import (
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// WorkCenterHandler 工作中心接口
type WorkCenterHandler struct {
	workOrder *service.WorkOrderService
	export    *service.ExportService
}

func NewWorkCenterHandler(workOrder *service.WorkOrderService, export *service.ExportService) *WorkCenterHandler {
	return &WorkCenterHandler{workOrder: workOrder, export: export}
}

// Operations GET /work-centers/:id/operations?status=PENDING,RUNNING
func (h *WorkCenterHandler) Operations(c *gin.Context) {
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, strings.ToUpper(s))
			}
		}
	}
	ops, err := h.workOrder.ListOperationsByWorkCenter(c.Request.Context(), GetPrincipal(c), c.Param("id"), statuses)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": ops})
}

// Ready GET /work-centers/:id/ready
func (h *WorkCenterHandler) Ready(c *gin.Context) {
	ops, err := h.workOrder.ReadyOperations(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": ops})
}

// Queue GET /work-centers/:id/queue
func (h *WorkCenterHandler) Queue(c *gin.Context) {
	entries, err := h.workOrder.WorkCenterQueue(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": entries})
}

// RebuildQueue POST /work-centers/:id/queue/rebuild
func (h *WorkCenterHandler) RebuildQueue(c *gin.Context) {
	entries, err := h.workOrder.RebuildQueue(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": entries})
}

// ExportQueue GET /work-centers/:id/queue/export
func (h *WorkCenterHandler) ExportQueue(c *gin.Context) {
	f, filename, err := h.export.ExportQueue(c.Request.Context(), GetPrincipal(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}
