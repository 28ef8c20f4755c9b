package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/service"
)

// DecisionHandler 决策日志处理器
type DecisionHandler struct {
	svc *service.DecisionService
}

// NewDecisionHandler 创建决策日志处理器
func NewDecisionHandler(svc *service.DecisionService) *DecisionHandler {
	return &DecisionHandler{svc: svc}
}

// Open 记录决策
// POST /api/v1/decisions
func (h *DecisionHandler) Open(c *gin.Context) {
	var req service.OpenDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	e, err := h.svc.Open(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, e)
}

// Close 关闭决策
// POST /api/v1/decisions/:id/close
func (h *DecisionHandler) Close(c *gin.Context) {
	var req service.CloseDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Close(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

// Get 获取决策
func (h *DecisionHandler) Get(c *gin.Context) {
	e, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, e)
}

// List 查询决策日志，mine=true 只看自己的
// GET /api/v1/decisions?part_number=&line_number=&open=true
func (h *DecisionHandler) List(c *gin.Context) {
	line, ok := optionalInt(c, "line_number")
	if !ok {
		return
	}
	page, pageSize := GetPagination(c)
	filter := repository.DecisionFilter{
		UserID:     c.Query("user_id"),
		PartNumber: c.Query("part_number"),
		LineNumber: line,
		OpenOnly:   c.Query("open") == "true",
	}
	if c.Query("mine") == "true" {
		filter.UserID = GetUserID(c)
	}

	entries, total, err := h.svc.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, entries, total, page, pageSize)
}
