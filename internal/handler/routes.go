package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-ipd/internal/middleware"
)

// RegisterRoutes 注册 /api/v1 业务路由，全部需要登录
func RegisterRoutes(r *gin.Engine, h *Handlers, jwtSecret string) {
	v1 := r.Group("/api/v1", middleware.JWTAuth(jwtSecret))

	writeRevision := middleware.RequirePermission(middleware.PermRevisionWrite)
	catalogAdmin := middleware.RequireRole(middleware.RoleCatalogAdmin)

	// 文档
	docs := v1.Group("/documents")
	{
		docs.GET("", h.Document.List)
		docs.POST("", writeRevision, h.Document.Create)
		docs.GET("/:id", h.Document.Get)

		// 版本链
		docs.GET("/:id/revisions", h.Revision.ListChain)
		docs.POST("/:id/revisions", writeRevision, h.Revision.Ingest)
		docs.GET("/:id/chain/verify", h.Revision.Verify)
		docs.GET("/:id/parts/:partNumber/lineage", h.Revision.Lineage)

		// 有效性
		docs.GET("/:id/effectivity", h.Effectivity.Resolve)
		docs.GET("/:id/effectivity/check", h.Effectivity.Check)
		docs.GET("/:id/effectivity/export", h.Effectivity.Export)
	}

	revs := v1.Group("/revisions")
	{
		revs.GET("/diff", h.Revision.Diff)
		revs.GET("/:id", h.Revision.Get)
		revs.GET("/:id/history", h.Revision.History)
		revs.POST("/:id/submit", writeRevision, h.Revision.Submit)
		revs.POST("/:id/approve", catalogAdmin, h.Revision.Approve)
		revs.POST("/:id/reject", catalogAdmin, h.Revision.Reject)
	}

	v1.GET("/lines/:line/parts", h.Effectivity.ResolveLine)

	// 构型漂移
	v1.POST("/observations", middleware.RequirePermission(middleware.PermDriftReport), h.Drift.Report)
	v1.GET("/drifts", h.Drift.List)
	v1.POST("/drifts/:id/resolve", catalogAdmin, h.Drift.Resolve)

	// 风险画像
	v1.GET("/risk-profiles", h.Risk.List)
	v1.GET("/risk-profiles/:partNumber", h.Risk.Get)

	// 决策日志
	v1.GET("/decisions", h.Decision.List)
	v1.POST("/decisions", h.Decision.Open)
	v1.GET("/decisions/:id", h.Decision.Get)
	v1.POST("/decisions/:id/close", h.Decision.Close)

	// 实时事件
	v1.GET("/events/stream", h.Event.Stream)
}
