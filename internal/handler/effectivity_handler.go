package handler

import (
	"fmt"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/service"
)

// EffectivityHandler 有效性解析处理器
type EffectivityHandler struct {
	svc *service.EffectivityService
}

// NewEffectivityHandler 创建有效性解析处理器
func NewEffectivityHandler(svc *service.EffectivityService) *EffectivityHandler {
	return &EffectivityHandler{svc: svc}
}

// Resolve 解析线号适用零件，revision_id 为空时使用已批准版本
// GET /api/v1/documents/:id/effectivity?line_number=&revision_id=
func (h *EffectivityHandler) Resolve(c *gin.Context) {
	line, ok := lineNumberParam(c, c.Query("line_number"))
	if !ok {
		return
	}
	res, err := h.svc.Resolve(c.Request.Context(), c.Param("id"), c.Query("revision_id"), line)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

// Check 单个件号适用性
// GET /api/v1/documents/:id/effectivity/check?line_number=&part_number=
func (h *EffectivityHandler) Check(c *gin.Context) {
	line, ok := lineNumberParam(c, c.Query("line_number"))
	if !ok {
		return
	}
	pn := c.Query("part_number")
	if pn == "" {
		BadRequest(c, "part_number is required")
		return
	}
	res, err := h.svc.Check(c.Request.Context(), c.Param("id"), c.Query("revision_id"), line, pn)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

// Export 导出解析结果
// GET /api/v1/documents/:id/effectivity/export?line_number=
func (h *EffectivityHandler) Export(c *gin.Context) {
	line, ok := lineNumberParam(c, c.Query("line_number"))
	if !ok {
		return
	}
	f, filename, err := h.svc.Export(c.Request.Context(), c.Param("id"), c.Query("revision_id"), line)
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

// ResolveLine 机型下所有文档在某线号的适用零件
// GET /api/v1/lines/:line/parts?aircraft_model=
func (h *EffectivityHandler) ResolveLine(c *gin.Context) {
	line, ok := lineNumberParam(c, c.Param("line"))
	if !ok {
		return
	}
	model := c.Query("aircraft_model")
	if model == "" {
		BadRequest(c, "aircraft_model is required")
		return
	}
	results, err := h.svc.ResolveLine(c.Request.Context(), model, line)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, results)
}
