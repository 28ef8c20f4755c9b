package handler

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/service"
	"github.com/bitfantasy/nimo-ipd/internal/sse"
)

// Handlers 处理器集合
type Handlers struct {
	Document    *DocumentHandler
	Revision    *RevisionHandler
	Effectivity *EffectivityHandler
	Drift       *DriftHandler
	Risk        *RiskHandler
	Decision    *DecisionHandler
	Event       *EventHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		Document:    NewDocumentHandler(svc.Document),
		Revision:    NewRevisionHandler(svc.Revision),
		Effectivity: NewEffectivityHandler(svc.Effectivity),
		Drift:       NewDriftHandler(svc.Drift),
		Risk:        NewRiskHandler(svc.Risk),
		Decision:    NewDecisionHandler(svc.Decision),
		Event:       NewEventHandler(hub),
	}
}

// 业务错误码，HTTP 状态码 = code / 100
const (
	CodeValidation   = 40000
	CodeUnauthorized = 40100
	CodeForbidden    = 40300
	CodeNotFound     = 40400
	CodeConflict     = 40900
	CodeInvalidState = 40901
	CodeInternal     = 50000
	CodeInvariant    = 50001
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// List 分页列表响应
func List(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
		},
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, CodeValidation, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

// ErrorCode 把错误类别映射为业务错误码
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return CodeValidation
	case errors.Is(err, apperr.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, apperr.ErrConflict):
		return CodeConflict
	case errors.Is(err, apperr.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, apperr.ErrInvariantViolation):
		return CodeInvariant
	default:
		return CodeInternal
	}
}

// Fail 按错误类别响应
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	Error(c, ErrorCode(err), err.Error())
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// lineNumberParam 解析线号，缺失或非正整数时返回 false 并已写入响应
func lineNumberParam(c *gin.Context, raw string) (int, bool) {
	if raw == "" {
		BadRequest(c, "line_number is required")
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		BadRequest(c, "line_number must be a positive integer")
		return 0, false
	}
	return v, true
}

// optionalInt 解析可选整数查询参数
func optionalInt(c *gin.Context, key string) (*int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		BadRequest(c, key+" must be an integer")
		return nil, false
	}
	return &v, true
}
