package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/disqualifier/mailtime/api/handlers"
	"github.com/disqualifier/mailtime/api/middleware"
	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/internal/tracing"
	"github.com/disqualifier/mailtime/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, cfg *config.Config, s *services.Services) {
	if s == nil {
		panic("Services cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health check and status endpoints
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.SyncService))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILTIME-API-KEY",
		ValidAPIKey: cfg.AppConfig.APIKey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", handlers.ListAccounts(s.SyncService))
			accounts.POST("", handlers.AddAccount(s.SyncService, cfg.DefaultIMAP))
			accounts.DELETE("/:id", handlers.RemoveAccount(s.SyncService))
			accounts.GET("/:id/status", handlers.AccountStatus(s.SyncService))
			accounts.POST("/:id/refresh", handlers.RefreshAccount(s.SyncService))
			accounts.PUT("/:id/hidden", handlers.SetAccountHidden(s.SyncService))

			accounts.GET("/:id/messages", handlers.ListMessages(s.MailboxService))
			accounts.GET("/:id/folders", handlers.ListFolders(s.MailboxService))
			accounts.GET("/:id/search", handlers.SearchAccount(s.SyncService, s.MailboxService))
		}

		api.POST("/refresh", handlers.RefreshAll(s.SyncService))
		api.POST("/cache/clear", handlers.ClearAllCaches(s.SyncService))
		api.GET("/search", handlers.SearchAllAccounts(s.MailboxService))
		api.GET("/events", handlers.StreamEvents(s.EventsService))
	}
}
