package handler

import (
	"io"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// PartHandler 零件工艺路线接口
type PartHandler struct {
	importer *service.ImportService
}

func NewPartHandler(importer *service.ImportService) *PartHandler {
	return &PartHandler{importer: importer}
}

// ImportRouting POST /parts/:id/routings/import?encoding=gbk
// 支持 multipart 字段 file，或直接以 text/csv 作为请求体
func (h *PartHandler) ImportRouting(c *gin.Context) {
	var reader io.Reader
	if file, _, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		reader = file
	} else if c.ContentType() == "text/csv" {
		reader = c.Request.Body
	} else {
		BadRequest(c, "请上传CSV文件")
		return
	}

	req := service.RoutingImportRequest{
		PartID:   c.Param("id"),
		Name:     c.Query("name"),
		Revision: c.Query("revision"),
		Encoding: c.DefaultQuery("encoding", "utf-8"),
	}
	result, err := h.importer.ImportRouting(c.Request.Context(), GetPrincipal(c), req, reader)
	if err != nil {
		if result != nil {
			ErrorWithData(c, CodeBadRequest, err.Error(), result)
			return
		}
		HandleError(c, err)
		return
	}
	Created(c, result)
}
