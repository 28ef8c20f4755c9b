package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/service"
)

// RevisionHandler 版本链处理器
type RevisionHandler struct {
	svc *service.RevisionService
}

// NewRevisionHandler 创建版本链处理器
func NewRevisionHandler(svc *service.RevisionService) *RevisionHandler {
	return &RevisionHandler{svc: svc}
}

// Ingest 追加版本
// POST /api/v1/documents/:id/revisions
func (h *RevisionHandler) Ingest(c *gin.Context) {
	var req service.IngestRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	rev, err := h.svc.Ingest(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, rev)
}

// ListChain 版本图 root → tail
// GET /api/v1/documents/:id/revisions
func (h *RevisionHandler) ListChain(c *gin.Context) {
	nodes, err := h.svc.ListChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, nodes)
}

// Get 获取版本，with_parts=true 时带零件
// GET /api/v1/revisions/:id
func (h *RevisionHandler) Get(c *gin.Context) {
	rev, err := h.svc.Get(c.Request.Context(), c.Param("id"), c.Query("with_parts") == "true")
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rev)
}

// Submit 提交审核
func (h *RevisionHandler) Submit(c *gin.Context) {
	rev, err := h.svc.Submit(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rev)
}

// Approve 批准版本
func (h *RevisionHandler) Approve(c *gin.Context) {
	var req service.ReviewRequest
	_ = c.ShouldBindJSON(&req)

	rev, err := h.svc.Approve(c.Request.Context(), c.Param("id"), GetUserID(c), req.Comment)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rev)
}

// Reject 驳回版本
func (h *RevisionHandler) Reject(c *gin.Context) {
	var req service.ReviewRequest
	_ = c.ShouldBindJSON(&req)

	rev, err := h.svc.Reject(c.Request.Context(), c.Param("id"), GetUserID(c), req.Comment)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rev)
}

// History 回溯到链首
// GET /api/v1/revisions/:id/history
func (h *RevisionHandler) History(c *gin.Context) {
	path, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, path)
}

// Diff 比较两个版本
// GET /api/v1/revisions/diff?from=&to=
func (h *RevisionHandler) Diff(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		BadRequest(c, "from and to are required")
		return
	}
	result, err := h.svc.Diff(c.Request.Context(), from, to)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Verify 版本链一致性检查，链损坏时以 50001 返回报告
// GET /api/v1/documents/:id/chain/verify
func (h *RevisionHandler) Verify(c *gin.Context) {
	report, err := h.svc.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		if report != nil && errors.Is(err, apperr.ErrInvariantViolation) {
			_ = c.Error(err)
			ErrorWithData(c, CodeInvariant, "revision chain is inconsistent", report)
			return
		}
		Fail(c, err)
		return
	}
	Success(c, report)
}

// Lineage 件号变化轨迹
// GET /api/v1/documents/:id/parts/:partNumber/lineage
func (h *RevisionHandler) Lineage(c *gin.Context) {
	entries, err := h.svc.Lineage(c.Request.Context(), c.Param("id"), c.Param("partNumber"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, entries)
}
