package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/api/handlers"
	"github.com/sixking/backend/internal/config"
	"github.com/sixking/backend/internal/ledger"
	"github.com/sixking/backend/internal/middleware"
	"github.com/sixking/backend/internal/ws"
)

// Deps are what the HTTP surface reads from.
type Deps struct {
	Games          handlers.GameQuerier
	Reconciliation handlers.Reconciliation
	Ledger         ledger.Gateway
	WS             *ws.Handler
	Metrics        http.Handler
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, cfg *config.Config, deps Deps) {
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	router.GET("/health", handlers.HealthCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)
		v1.GET("/config", handlers.GetConfig(cfg))

		if deps.WS != nil {
			v1.GET("/ws", middleware.WebSocketCORSCheck(cfg), handlers.HandleGameWebSocket(deps.WS))
		}

		games := v1.Group("/games")
		{
			games.GET("/active", handlers.ListActiveGames(deps.Games))
			games.GET("/queue", handlers.GetQueueStatus(deps.Games))
			games.GET("/:matchId", handlers.GetGame(deps.Games))
		}

		admin := v1.Group("/admin", handlers.AdminAuth(cfg))
		{
			admin.GET("/settlements/unresolved", handlers.GetUnresolvedSettlements(deps.Reconciliation))
			admin.POST("/settlements/retry", handlers.RetryUnresolvedSettlements(deps.Reconciliation))
			admin.GET("/players/:playerId/balance", handlers.GetPlayerBalance(deps.Ledger))
		}

		if cfg.Environment == "development" {
			v1.POST("/dev/token", handlers.IssueDevToken(cfg))
		}
	}
}
