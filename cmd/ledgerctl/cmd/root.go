package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/escrow-ledger/internal/config"
	"github.com/ignatzorin/escrow-ledger/internal/db"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	ledgerRepo "github.com/ignatzorin/escrow-ledger/internal/repository"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

// rootCmd базовая команда, без подкоманды печатает справку.
var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Обслуживание эскроу-леджера",
	Long: `Административная утилита эскроу-леджера.
Применяет миграции, сверяет платежи с журналом и показывает производный статус.`,
	SilenceUsage: true,
}

// Execute запускает корневую команду.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ledgerEnv соединение с базой и сервисы только для чтения.
type ledgerEnv struct {
	conn   *sqlx.DB
	ledger *service.LedgerService
	store  *ledgerRepo.LedgerRepository
}

// openLedger подключается к Postgres из конфигурации окружения.
func openLedger(ctx context.Context) (*ledgerEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, logger.FormatText)

	if cfg.StorageDriver != config.StorageDriverPostgres {
		return nil, fmt.Errorf("ledgerctl работает только с STORAGE_DRIVER=%s", config.StorageDriverPostgres)
	}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	store := ledgerRepo.NewLedgerRepository(conn)
	return &ledgerEnv{
		conn:   conn,
		store:  store,
		ledger: service.NewLedgerService(store, service.NewCacheService(ctx, cfg.StatusCacheTTL)),
	}, nil
}

func (e *ledgerEnv) Close() {
	_ = e.conn.Close()
}
