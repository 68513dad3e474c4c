package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"outreach-agent-go/internal/api/handler"
	"outreach-agent-go/internal/config"
)

// RegisterRoutes 注册API路由
// 配置了api_keys时，/api/v1下除health外的路由启用Bearer鉴权
func RegisterRoutes(h *server.Hertz, cfg *config.Config, resumeHandler *handler.ResumeHandler) {
	api := h.Group("/api/v1")

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	if len(cfg.Server.APIKeys) > 0 {
		allowed := make(map[string]bool, len(cfg.Server.APIKeys))
		for _, key := range cfg.Server.APIKeys {
			allowed[key] = true
		}
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return allowed[key], nil
			}),
		))
	}

	api.POST("/resume/upload", resumeHandler.HandleUpload)
	api.POST("/resume/ingest-text", resumeHandler.HandleIngestText)
	api.POST("/resume/analyze", resumeHandler.HandleAnalyze)
	api.POST("/resume/skill-match", resumeHandler.HandleSkillMatch)
	api.GET("/resume/:docId/exists", resumeHandler.HandleExists)
	api.DELETE("/resume/:docId", resumeHandler.HandleDelete)
	api.GET("/resume/profile/:userId", resumeHandler.HandleProfile)
	api.GET("/rag/stats", resumeHandler.HandleStats)
}
