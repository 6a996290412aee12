package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignatzorin/escrow-ledger/internal/config"
	"github.com/ignatzorin/escrow-ledger/internal/http/handlers"
	"github.com/ignatzorin/escrow-ledger/internal/http/middleware"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	tokenManager *service.TokenManager,
	ledgerMetrics *metrics.LedgerMetrics,
	gatherer prometheus.Gatherer,
	healthHandler *handlers.HealthHandler,
	paymentHandler *handlers.PaymentHandler,
	hookHandler *handlers.HookHandler,
	adminHandler *handlers.AdminHandler,
	wsHandler *handlers.WSHandler,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics(ledgerMetrics))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	if wsHandler != nil {
		api.GET("/ws", wsHandler.Handle)
	}

	// Хуки внешних систем: свои ключи вместо JWT.
	api.POST("/webhooks/gateway",
		middleware.RateLimitMiddleware("webhook", cfg.RateLimitLimit*10, cfg.RateLimitPeriod),
		middleware.GatewaySignature(cfg.GatewayWebhookSecret),
		hookHandler.Gateway,
	)
	api.POST("/hooks/disputes", middleware.HookToken(cfg.DisputeHookToken), hookHandler.Dispute)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		payments := protected.Group("/payments")
		writeLimit := middleware.RateLimitMiddleware("payments", cfg.RateLimitLimit, cfg.RateLimitPeriod)

		payments.POST("", writeLimit, paymentHandler.Fund)
		payments.GET("/my", paymentHandler.My)
		payments.GET("/:id", middleware.UUIDValidator("id"), paymentHandler.Get)
		payments.GET("/:id/transactions", middleware.UUIDValidator("id"), paymentHandler.Transactions)
		payments.POST("/:id/release", writeLimit, middleware.UUIDValidator("id"), paymentHandler.Release)
		payments.POST("/:id/refund", writeLimit, middleware.UUIDValidator("id"), paymentHandler.Refund)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(models.RoleAdmin))
		{
			admin.POST("/payments/:id/resolution", middleware.UUIDValidator("id"), adminHandler.ApplyResolution)
			admin.POST("/payments/:id/reconcile", middleware.UUIDValidator("id"), adminHandler.Reconcile)
			admin.DELETE("/payments/:id/integrity-hold", middleware.UUIDValidator("id"), adminHandler.ClearIntegrityHold)
			admin.GET("/payments/:id/holds", middleware.UUIDValidator("id"), adminHandler.Holds)
			admin.POST("/reconcile/sweep", adminHandler.Sweep)
		}
	}

	return r
}
