package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/api"
	"github.com/sixking/backend/internal/config"
	"github.com/sixking/backend/internal/database"
	"github.com/sixking/backend/internal/game"
	"github.com/sixking/backend/internal/ledger"
	"github.com/sixking/backend/internal/metrics"
	"github.com/sixking/backend/internal/migrations"
	"github.com/sixking/backend/internal/redis"
	"github.com/sixking/backend/internal/ws"
)

func main() {
	// Initialize configuration (also reads .env when present)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Ledger: postgres when configured, otherwise an in-memory mock wallet
	var gateway ledger.Gateway
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if cfg.MigrateOnStart {
			log.Println("↗ Running DB migrations on startup...")
			if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
				log.Fatalf("Failed to run migrations: %v", err)
			}
		}
		gateway = ledger.NewPostgres(db, cfg.StartingBalance)
		log.Println("[LEDGER] Using postgres wallet ledger")
	} else {
		gateway = ledger.NewMemory(cfg.StartingBalance)
		log.Printf("[LEDGER] DATABASE_URL not set - mock mode, in-memory wallets start at %d", cfg.StartingBalance)
	}

	// Redis backs idle forfeits and the reconciliation list
	var reconciler game.Reconciler = game.NewMemoryReconciler()
	var idle *game.IdleTracker
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		reconciler = game.NewRedisReconciler(rdb)
		idle = game.NewIdleTracker(rdb, cfg.IdleForfeitAfter())
	} else {
		log.Println("[IDLE] REDIS_URL not set; idle forfeits disabled, reconciliation kept in memory")
	}

	settler := game.NewLedgerSettler(gateway, reconciler, m, game.SettlerConfig{
		MaxTries: uint(cfg.SettlementRetryAttempts),
	})

	deps := game.Deps{
		Ledger:  gateway,
		Settler: settler,
		Roller:  game.CryptoRoller{},
		Metrics: m,
	}
	if idle != nil {
		deps.Idle = idle
	}
	coordinator, err := game.NewCoordinator(game.Config{
		MinStake:        cfg.MinStakeAmount,
		DisposalDelay:   cfg.MatchDisposalDelay(),
		DisconnectGrace: cfg.DisconnectGrace(),
	}, deps)
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}
	defer coordinator.Shutdown()

	go game.StartReconciler(ctx, settler, time.Duration(cfg.ReconcileIntervalSecs)*time.Second)

	if idle != nil {
		worker := game.NewIdleWorker(idle, coordinator, time.Duration(cfg.IdleWorkerPollInterval)*time.Second)
		go worker.Run(ctx)
	}

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	api.SetupRoutes(router, cfg, api.Deps{
		Games:          coordinator,
		Reconciliation: settler,
		Ledger:         gateway,
		WS:             ws.NewHandler(coordinator, cfg.JWTSecret, cfg.RequirePlayerAuth, m),
		Metrics:        m.Handler(),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting Six King server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
