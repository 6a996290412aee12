package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// IntegrityMonitor выносит нарушения целостности за пределы запроса:
// лог, метрика, событие в операторскую очередь и, при необходимости, заморозка платежа.
// Ничего не исправляет.
type IntegrityMonitor struct {
	store     repository.LedgerStore
	publisher events.Publisher
	metrics   *metrics.LedgerMetrics
}

func NewIntegrityMonitor(store repository.LedgerStore, publisher events.Publisher, m *metrics.LedgerMetrics) *IntegrityMonitor {
	if publisher == nil {
		publisher = events.Nop
	}
	return &IntegrityMonitor{store: store, publisher: publisher, metrics: m}
}

// Report фиксирует нарушение. hold ставит платёж на integrity hold до ручного снятия.
// Вызывать только вне блокировки платежа.
func (m *IntegrityMonitor) Report(ctx context.Context, paymentID uuid.UUID, source string, cause error, hold bool) {
	code := string(apperror.CodeOf(cause))
	details := map[string]any{"message": cause.Error(), "source": source}
	var appErr *apperror.AppError
	if errors.As(cause, &appErr) {
		for k, v := range appErr.Details {
			details[k] = v
		}
	}

	if logger.Log != nil {
		logger.Log.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"code":       code,
			"source":     source,
			"details":    details,
		}).Error("ledger integrity violation")
	}
	m.metrics.ObserveIntegrityViolation(code, source)

	event := events.New(events.TypeIntegrityViolation, paymentID)
	event.Details = details

	if hold {
		err := m.store.WithPaymentLock(ctx, paymentID, func(tx repository.LedgerTx) error {
			p := tx.Payment()
			event.ClientID, event.FreelancerID, event.Status = p.ClientID, p.FreelancerID, p.Status.String()
			if p.IntegrityHold {
				return nil
			}
			return tx.SetIntegrityHold(ctx, true)
		})
		if err != nil && logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"payment_id": paymentID,
				"error":      err.Error(),
			}).Error("failed to put payment on integrity hold")
		}
		details["integrity_hold"] = err == nil
	} else if p, err := m.store.GetPayment(ctx, paymentID); err == nil {
		event.ClientID, event.FreelancerID, event.Status = p.ClientID, p.FreelancerID, p.Status.String()
	}

	publish(ctx, m.publisher, m.metrics, event)
}
