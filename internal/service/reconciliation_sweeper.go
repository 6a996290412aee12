package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// Anomaly нарушение, найденное при сверке.
type Anomaly struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
}

// SweepReport итог одного прохода сверки.
type SweepReport struct {
	Checked   int           `json:"checked"`
	Anomalies []Anomaly     `json:"anomalies"`
	Duration  time.Duration `json:"duration"`
}

// ReconciliationSweeper периодически сверяет все платежи с их журналами.
// Только читает и сообщает: ничего не исправляет и не замораживает.
type ReconciliationSweeper struct {
	store    repository.LedgerStore
	ledger   *LedgerService
	monitor  *IntegrityMonitor
	metrics  *metrics.LedgerMetrics
	interval time.Duration
	batch    int
}

func NewReconciliationSweeper(store repository.LedgerStore, ledger *LedgerService, monitor *IntegrityMonitor, m *metrics.LedgerMetrics, interval time.Duration, batch int) *ReconciliationSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &ReconciliationSweeper{
		store:    store,
		ledger:   ledger,
		monitor:  monitor,
		metrics:  m,
		interval: interval,
		batch:    batch,
	}
}

// Run запускает сверку по таймеру до отмены ctx.
func (s *ReconciliationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil && logger.Log != nil {
				logger.Log.WithError(err).Error("reconciliation sweep failed")
			}
		}
	}
}

// Sweep один проход по всем платежам страницами по id.
func (s *ReconciliationSweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	started := time.Now()
	report := &SweepReport{Anomalies: []Anomaly{}}

	after := uuid.Nil
	for {
		ids, err := s.store.ListPaymentIDs(ctx, after, s.batch)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++

			err := s.ledger.Reconcile(ctx, id)
			if err == nil {
				continue
			}
			if !apperror.IsIntegrity(err) {
				if logger.Log != nil {
					logger.Log.WithFields(logrus.Fields{
						"payment_id": id,
						"error":      err.Error(),
					}).Warn("reconciliation skipped payment")
				}
				continue
			}

			report.Anomalies = append(report.Anomalies, Anomaly{
				PaymentID: id,
				Code:      string(apperror.CodeOf(err)),
				Error:     err.Error(),
			})
			if s.monitor != nil {
				s.monitor.Report(ctx, id, "sweep", err, false)
			}
		}
		after = ids[len(ids)-1]
	}

	report.Duration = time.Since(started)
	s.metrics.ObserveSweep(report.Duration.Seconds(), report.Checked, len(report.Anomalies))
	if logger.Log != nil {
		logger.Log.WithFields(logrus.Fields{
			"checked":   report.Checked,
			"anomalies": len(report.Anomalies),
			"duration":  report.Duration.String(),
		}).Info("reconciliation sweep finished")
	}
	return report, nil
}
