package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// AdminHandler 管理接口，仅管理员角色可用
type AdminHandler struct {
	authz *service.RBACAuthorizer
}

func NewAdminHandler(authz *service.RBACAuthorizer) *AdminHandler {
	return &AdminHandler{authz: authz}
}

// InvalidatePermissions POST /admin/permissions/:user_id/invalidate
// 角色调整后清除该用户的权限缓存
func (h *AdminHandler) InvalidatePermissions(c *gin.Context) {
	if err := h.authz.Invalidate(c.Request.Context(), c.Param("user_id")); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}
