package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/escrow-ledger/internal/config"
	"github.com/ignatzorin/escrow-ledger/internal/db"
	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/goroutine"
	httpHandlers "github.com/ignatzorin/escrow-ledger/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-ledger/internal/http/router"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	ledgerRepo "github.com/ignatzorin/escrow-ledger/internal/repository"
	"github.com/ignatzorin/escrow-ledger/internal/repository/memory"
	"github.com/ignatzorin/escrow-ledger/internal/service"
	"github.com/ignatzorin/escrow-ledger/internal/ws"
	"github.com/ignatzorin/escrow-ledger/migrations"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	ledgerMetrics := metrics.Init()

	// Хранилище леджера.
	var (
		store  repository.LedgerStore
		dbConn *sqlx.DB
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Log.Warn("using in-memory ledger store, data is lost on restart")
		store = memory.NewLedgerStore()
	default:
		dbConn, err = db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("main: ошибка подключения к базе: %v", err)
		}
		defer safeClose(dbConn)

		if err := db.RunMigrations(ctx, dbConn, migrations.FS); err != nil {
			log.Fatalf("main: ошибка миграций: %v", err)
		}
		store = ledgerRepo.NewLedgerRepository(dbConn)
	}

	// Redis необязателен: без него кэш статусов живёт в памяти процесса.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("main: ошибка подключения к redis: %v", err)
		}
		defer redisClient.Close()
	}

	var cache service.StatusCache
	if redisClient != nil {
		cache = service.NewRedisStatusCache(redisClient, cfg.StatusCacheTTL)
	} else {
		cache = service.NewCacheService(ctx, cfg.StatusCacheTTL)
	}

	// Вебсокеты.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, "ws-hub", hub.Run)

	// Доменные события.
	publishers := []events.Publisher{events.NewLogPublisher(), ws.NewEventPublisher(hub)}
	switch cfg.EventsDriver {
	case config.EventsDriverRedis:
		publishers = append(publishers, events.NewRedisStreamPublisher(redisClient, cfg.EventsStream, 100000))
	case config.EventsDriverKafka:
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Log.WithError(err).Warn("kafka publisher close failed")
			}
		}()
		publishers = append(publishers, kafkaPublisher)
	}
	publisher := events.NewMulti(publishers...)

	// Сервисы.
	feeRate, err := valueobject.NewFeeRate(cfg.PlatformFeeRate)
	if err != nil {
		log.Fatalf("main: некорректная ставка комиссии: %v", err)
	}
	escrowCfg := service.EscrowConfig{
		FeeRate:           feeRate,
		PlatformAccountID: cfg.PlatformAccountID,
		Currency:          cfg.Currency,
	}

	monitor := service.NewIntegrityMonitor(store, publisher, ledgerMetrics)
	deps := service.Dependencies{
		Store:     store,
		Cache:     cache,
		Publisher: publisher,
		Monitor:   monitor,
		Metrics:   ledgerMetrics,
	}
	escrowService := service.NewEscrowService(deps, escrowCfg)
	disputeGate := service.NewDisputeGate(deps, escrowCfg)
	ledgerService := service.NewLedgerService(store, cache)
	sweeper := service.NewReconciliationSweeper(store, ledgerService, monitor, ledgerMetrics, cfg.ReconcileInterval, cfg.ReconcileBatch)
	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	goroutine.SafeGoWithContext(ctx, "reconciliation-sweeper", sweeper.Run)

	// HTTP хэндлеры.
	healthHandler := httpHandlers.NewHealthHandler(dbConn, redisClient)
	paymentHandler := httpHandlers.NewPaymentHandler(escrowService, ledgerService)
	hookHandler := httpHandlers.NewHookHandler(escrowService, disputeGate)
	adminHandler := httpHandlers.NewAdminHandler(escrowService, disputeGate, ledgerService, sweeper)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, tokenManager, ledgerMetrics, prometheus.DefaultGatherer,
		healthHandler, paymentHandler, hookHandler, adminHandler, wsHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("http server shutdown failed")
		}
	}()

	logger.Log.WithFields(map[string]interface{}{
		"port":     cfg.HTTPPort,
		"storage":  cfg.StorageDriver,
		"events":   cfg.EventsDriver,
		"fee_rate": feeRate.Decimal().String(),
	}).Info("http server started")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
