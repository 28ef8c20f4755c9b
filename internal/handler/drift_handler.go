package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/service"
)

// DriftHandler 构型漂移处理器
type DriftHandler struct {
	svc *service.DriftService
}

// NewDriftHandler 创建构型漂移处理器
func NewDriftHandler(svc *service.DriftService) *DriftHandler {
	return &DriftHandler{svc: svc}
}

// Report 上报现场构型
// POST /api/v1/observations
func (h *DriftHandler) Report(c *gin.Context) {
	var req service.ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.LineNumber <= 0 {
		BadRequest(c, "line_number must be a positive integer")
		return
	}

	res, err := h.svc.Check(c.Request.Context(), &req)
	if err != nil {
		Fail(c, err)
		return
	}
	if res.Created {
		Created(c, res)
		return
	}
	Success(c, res)
}

// List 查询漂移记录
// GET /api/v1/drifts?line_number=&status=&part_number=&document_id=
func (h *DriftHandler) List(c *gin.Context) {
	line, ok := optionalInt(c, "line_number")
	if !ok {
		return
	}
	page, pageSize := GetPagination(c)
	filter := repository.DriftFilter{
		LineNumber: line,
		PartNumber: c.Query("part_number"),
		DocumentID: c.Query("document_id"),
		Status:     entity.DriftStatus(c.Query("status")),
	}

	recs, total, err := h.svc.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, recs, total, page, pageSize)
}

// Resolve 人工解决漂移
// POST /api/v1/drifts/:id/resolve
func (h *DriftHandler) Resolve(c *gin.Context) {
	var req service.ResolveDriftRequest
	_ = c.ShouldBindJSON(&req)

	rec, err := h.svc.Resolve(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, rec)
}
