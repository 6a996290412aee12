package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/domain/ledger"
	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

const publishTimeout = 5 * time.Second

// step изменения журнала внутри одной единицы работы.
// Статус платежа step не трогает: его выводит runner из итогового журнала.
type step func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error)

type stepResult struct {
	// deferred нарушение целостности, которое не должно откатывать записанное.
	deferred error
	extra    []events.Event
}

// transitionRunner выполняет переходы платежа атомарно под блокировкой платежа:
// шаг, вывод статуса из журнала, проверка инвариантов, затем коммит.
// После коммита сбрасывает кэш и публикует события.
type transitionRunner struct {
	store     repository.LedgerStore
	cache     StatusCache
	publisher events.Publisher
	monitor   *IntegrityMonitor
	metrics   *metrics.LedgerMetrics
}

func newTransitionRunner(store repository.LedgerStore, cache StatusCache, publisher events.Publisher, monitor *IntegrityMonitor, m *metrics.LedgerMetrics) *transitionRunner {
	if publisher == nil {
		publisher = events.Nop
	}
	return &transitionRunner{store: store, cache: cache, publisher: publisher, monitor: monitor, metrics: m}
}

func (r *transitionRunner) run(ctx context.Context, op string, paymentID uuid.UUID, fn step) (*models.Payment, error) {
	var (
		before *models.Payment
		after  *models.Payment
		result  *stepResult
		settled []models.Transaction
	)

	err := r.store.WithPaymentLock(ctx, paymentID, func(tx repository.LedgerTx) error {
		before = tx.Payment()
		txs, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}

		result, err = fn(ctx, tx, before, txs)
		if err != nil {
			return err
		}

		staged, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		if !ledgerChanged(txs, staged) {
			after = tx.Payment()
			return nil
		}

		derived := ledger.Derive(staged)
		if derived != before.Status && !before.Status.CanTransitionTo(derived) {
			return invalidTransition(before.Status, derived)
		}
		// Обновляем и при неизменном статусе: updated_at служит версией для читателей.
		if err := tx.UpdateStatus(ctx, derived); err != nil {
			return err
		}

		after = tx.Payment()
		// Присваиваем, а не дописываем: при повторе транзакции набор пересчитывается.
		settled = newlySettled(txs, staged)
		return ledger.Verify(after, staged)
	})
	if err != nil {
		r.reject(ctx, op, paymentID, err)
		return nil, err
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, paymentID)
	}

	for i := range settled {
		r.metrics.ObserveSettled(settled[i].Type, after.Currency, settled[i].Amount.InexactFloat64())
	}

	if before.Status != after.Status {
		r.metrics.ObserveTransition(before.Status.String(), after.Status.String())
		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"payment_id": paymentID,
				"op":         op,
				"from":       before.Status,
				"to":         after.Status,
			}).Info("payment transition committed")
		}
	}

	for _, event := range transitionEvents(before, after) {
		publish(ctx, r.publisher, r.metrics, event)
	}
	if result != nil {
		for _, event := range result.extra {
			publish(ctx, r.publisher, r.metrics, fillEvent(event, after))
		}
		if result.deferred != nil && r.monitor != nil {
			r.monitor.Report(ctx, paymentID, op, result.deferred, true)
		}
	}

	return after, nil
}

// reject логирует отказ и выносит нарушения целостности в монитор.
func (r *transitionRunner) reject(ctx context.Context, op string, paymentID uuid.UUID, err error) {
	code := apperror.CodeOf(err)
	if code == "" {
		code = apperror.ErrCodeInternal
	}

	if apperror.IsDuplicate(err) {
		r.metrics.ObserveReplay()
	} else {
		r.metrics.ObserveRejection(op, string(code))
	}

	if logger.Log != nil {
		entry := logger.Log.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"op":         op,
			"code":       code,
		})
		switch {
		case apperror.IsDuplicate(err):
			entry.Info("gateway event replay acknowledged")
		case apperror.IsConflict(err), apperror.IsValidation(err), apperror.IsNotFound(err), apperror.IsForbidden(err):
			entry.Warn("payment transition rejected")
		case !apperror.IsIntegrity(err):
			entry.WithField("error", err.Error()).Error("payment transition failed")
		}
	}

	if apperror.IsIntegrity(err) && r.monitor != nil {
		r.monitor.Report(ctx, paymentID, op, err, true)
	}
}

func ledgerChanged(before, after []models.Transaction) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Status != after[i].Status || !before[i].Amount.Equal(after[i].Amount) {
			return true
		}
	}
	return false
}

// newlySettled транзакции, которые стали completed в этой единице работы.
func newlySettled(before, after []models.Transaction) []models.Transaction {
	completed := make(map[uuid.UUID]struct{}, len(before))
	for i := range before {
		if before[i].Status == models.TransactionStatusCompleted {
			completed[before[i].ID] = struct{}{}
		}
	}

	var settled []models.Transaction
	for i := range after {
		tx := after[i]
		if tx.Status != models.TransactionStatusCompleted || tx.Amount.IsZero() {
			continue
		}
		if _, ok := completed[tx.ID]; ok {
			continue
		}
		settled = append(settled, tx)
	}
	return settled
}

func invalidTransition(from, to valueobject.PaymentStatus) error {
	return apperror.ErrInvalidTransition.
		WithDetail("status", from.String()).
		WithDetail("target", to.String())
}

// conflict добавляет текущий статус к ошибке отказа, чтобы вызывающий мог решить про повтор.
func conflict(err *apperror.AppError, p *models.Payment) *apperror.AppError {
	return err.WithDetail("status", p.Status.String()).WithDetail("payment_id", p.ID.String())
}

func transitionEvents(before, after *models.Payment) []events.Event {
	if before.Status == after.Status {
		return nil
	}

	var types []string
	if before.Status == valueobject.PaymentStatusDisputed {
		types = append(types, events.TypeDisputeResolved)
	}
	switch after.Status {
	case valueobject.PaymentStatusEscrowed:
		types = append(types, events.TypePaymentEscrowed)
	case valueobject.PaymentStatusFailed:
		types = append(types, events.TypePaymentFailed)
	case valueobject.PaymentStatusReleased:
		types = append(types, events.TypePaymentReleased)
	case valueobject.PaymentStatusRefunded:
		types = append(types, events.TypePaymentRefunded)
	case valueobject.PaymentStatusDisputed:
		types = append(types, events.TypePaymentDisputed)
	}

	out := make([]events.Event, 0, len(types))
	for _, t := range types {
		e := fillEvent(events.New(t, after.ID), after)
		e.Details = map[string]any{"previous_status": before.Status.String()}
		out = append(out, e)
	}
	return out
}

func fillEvent(e events.Event, p *models.Payment) events.Event {
	e.PaymentID = p.ID
	e.ClientID = p.ClientID
	e.FreelancerID = p.FreelancerID
	e.Status = p.Status.String()
	e.Amount = p.Amount.StringFixed(valueobject.CentsPlaces)
	return e
}

// publish доставляет событие после коммита. Отмена запроса не прерывает доставку.
func publish(ctx context.Context, publisher events.Publisher, m *metrics.LedgerMetrics, event events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := publisher.Publish(pctx, event); err != nil {
		m.ObservePublishFailure()
		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"event":      event.Type,
				"payment_id": event.PaymentID,
				"error":      err.Error(),
			}).Warn("domain event not delivered")
		}
	}
}

// mapStoreError переводит ошибки хранилища в ошибки приложения.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrTransactionNotPending):
		return apperror.Wrap(err, apperror.ErrCodeInvalidTransition, "транзакция уже обработана")
	case errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrForeignPayment),
		errors.Is(err, repository.ErrInvalidTransaction):
		return apperror.Wrap(err, apperror.ErrCodeInternal, "некорректная запись журнала")
	}
	return err
}
