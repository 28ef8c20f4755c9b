package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/service"
)

// RiskHandler 风险画像处理器
type RiskHandler struct {
	svc *service.RiskService
}

// NewRiskHandler 创建风险画像处理器
func NewRiskHandler(svc *service.RiskService) *RiskHandler {
	return &RiskHandler{svc: svc}
}

// Get 获取件号风险画像
// GET /api/v1/risk-profiles/:partNumber
func (h *RiskHandler) Get(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), c.Param("partNumber"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, view)
}

// List 风险画像列表，按分数倒序
// GET /api/v1/risk-profiles?volatility=
func (h *RiskHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	views, total, err := h.svc.List(c.Request.Context(), c.Query("volatility"), page, pageSize)
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, views, total, page, pageSize)
}
