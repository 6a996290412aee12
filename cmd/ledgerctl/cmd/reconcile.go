package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Сверить платежи с журналом транзакций",
	Long: `Без флагов проходит по всем платежам и печатает найденные аномалии.
С --payment сверяет один платёж. Ничего не исправляет.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawID, _ := cmd.Flags().GetString("payment")
		batch, _ := cmd.Flags().GetInt("batch")

		env, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()

		if rawID != "" {
			paymentID, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("некорректный --payment: %w", err)
			}
			if err := env.ledger.Reconcile(cmd.Context(), paymentID); err != nil {
				fmt.Fprintf(out, "%s: %v\n", paymentID, err)
				return err
			}
			fmt.Fprintf(out, "%s: consistent\n", paymentID)
			return nil
		}

		// Отдельный реестр: утилита не отдаёт метрики наружу.
		m := metrics.New(prometheus.NewRegistry())
		monitor := service.NewIntegrityMonitor(env.store, events.NewLogPublisher(), m)
		sweeper := service.NewReconciliationSweeper(env.store, env.ledger, monitor, m, 0, batch)

		report, err := sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if len(report.Anomalies) > 0 {
			return fmt.Errorf("найдено аномалий: %d", len(report.Anomalies))
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().String("payment", "", "ID платежа для точечной сверки")
	reconcileCmd.Flags().Int("batch", 200, "размер страницы при обходе платежей")
	rootCmd.AddCommand(reconcileCmd)
}
