package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/domain/ledger"
	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-ledger/internal/validation"
)

// Исход события шлюза
const (
	GatewayOutcomeSucceeded = "succeeded"
	GatewayOutcomeFailed    = "failed"
)

// EscrowConfig параметры платформы.
type EscrowConfig struct {
	FeeRate           valueobject.FeeRate
	PlatformAccountID uuid.UUID
	Currency          string
}

// FundRequest намерение клиента профинансировать заказ.
type FundRequest struct {
	JobID        uuid.UUID
	ClientID     uuid.UUID
	FreelancerID uuid.UUID
	Amount       decimal.Decimal
	Currency     string
}

// GatewayEvent уведомление платёжного шлюза.
type GatewayEvent struct {
	ExternalTransactionID string
	PaymentID             uuid.UUID
	Outcome               string
	FailureReason         string
}

// Dependencies общие зависимости сервисов переходов.
type Dependencies struct {
	Store     repository.LedgerStore
	Cache     StatusCache
	Publisher events.Publisher
	Monitor   *IntegrityMonitor
	Metrics   *metrics.LedgerMetrics
}

// EscrowService конечный автомат эскроу: финансирование, события шлюза, выплата и возврат.
type EscrowService struct {
	store     repository.LedgerStore
	runner    *transitionRunner
	publisher events.Publisher
	metrics   *metrics.LedgerMetrics
	cfg       EscrowConfig
	now       func() time.Time
}

func NewEscrowService(deps Dependencies, cfg EscrowConfig) *EscrowService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop
	}
	return &EscrowService{
		store:     deps.Store,
		runner:    newTransitionRunner(deps.Store, deps.Cache, publisher, deps.Monitor, deps.Metrics),
		publisher: publisher,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// FundJob создаёт платёж в статусе pending и транзакцию-намерение, ожидающую подтверждения шлюза.
func (s *EscrowService) FundJob(ctx context.Context, req FundRequest) (*models.Payment, error) {
	amount, err := valueobject.NewAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.JobID == uuid.Nil || req.ClientID == uuid.Nil || req.FreelancerID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "job_id, client_id и freelancer_id обязательны")
	}
	if req.ClientID == req.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "клиент и фрилансер должны различаться")
	}
	currency := s.cfg.Currency
	if strings.TrimSpace(req.Currency) != "" {
		if currency, err = validation.NormalizeCurrency(req.Currency); err != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
		}
	}
	if currency != s.cfg.Currency {
		return nil, apperror.New(apperror.ErrCodeValidation, "валюта не поддерживается").
			WithDetail("currency", currency)
	}

	payment := &models.Payment{
		ID:           uuid.New(),
		JobID:        req.JobID,
		ClientID:     req.ClientID,
		FreelancerID: req.FreelancerID,
		Amount:       amount,
		Currency:     currency,
		Status:       valueobject.PaymentStatusPending,
	}
	platform := s.cfg.PlatformAccountID
	intent := &models.Transaction{
		Type:       models.TransactionTypePayment,
		Amount:     amount,
		Status:     models.TransactionStatusPending,
		FromUserID: &payment.ClientID,
		ToUserID:   &platform,
	}

	if err := s.store.CreatePayment(ctx, payment, intent); err != nil {
		return nil, err
	}

	if logger.Log != nil {
		logger.Log.WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"job_id":     payment.JobID,
			"amount":     payment.Amount.String(),
		}).Info("payment created")
	}
	publish(ctx, s.publisher, s.metrics, fillEvent(events.New(events.TypePaymentCreated, payment.ID), payment))

	return payment, nil
}

// RecordGatewayEvent применяет подтверждение или отказ шлюза. Идемпотентно по
// externalTransactionId: повтор возвращает ErrDuplicateExternalID и ничего не меняет,
// даже если исход в повторе другой.
func (s *EscrowService) RecordGatewayEvent(ctx context.Context, ev GatewayEvent) (*models.Payment, error) {
	externalID := strings.TrimSpace(ev.ExternalTransactionID)
	if err := validation.ValidateExternalID(externalID); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateFailureReason(ev.FailureReason); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if ev.Outcome != GatewayOutcomeSucceeded && ev.Outcome != GatewayOutcomeFailed {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный исход события шлюза").
			WithDetail("outcome", ev.Outcome)
	}

	return s.runner.run(ctx, "gateway_event", ev.PaymentID, func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
		// Повтор распознаётся раньше любых проверок статуса.
		for i := range txs {
			if txs[i].HasExternalID(externalID) {
				return nil, apperror.ErrDuplicateExternalID.
					WithDetail("status", p.Status.String()).
					WithDetail("external_transaction_id", externalID)
			}
		}
		if err := guardLedger(p, txs); err != nil {
			return nil, err
		}

		// Средства могут прийти и во время спора: статус останется disputed.
		base := ledger.BaseStatus(txs)
		if base != valueobject.PaymentStatusPending {
			return nil, conflict(apperror.ErrInvalidTransition, p)
		}

		status := models.TransactionStatusCompleted
		var reason *string
		if ev.Outcome == GatewayOutcomeFailed {
			status = models.TransactionStatusFailed
			r := ev.FailureReason
			if r == "" {
				r = "gateway declined"
			}
			reason = &r
		}
		now := s.now()

		if intent := ledger.PendingFunding(txs); intent != nil {
			err := tx.Settle(ctx, intent.ID, models.Settlement{
				Status:        status,
				ExternalID:    &externalID,
				FailureReason: reason,
				ProcessedAt:   now,
			})
			if err != nil {
				return nil, mapStoreError(err)
			}
		} else {
			platform := s.cfg.PlatformAccountID
			err := tx.Append(ctx, &models.Transaction{
				PaymentID:             p.ID,
				Type:                  models.TransactionTypePayment,
				Amount:                p.Amount,
				Status:                status,
				FromUserID:            &p.ClientID,
				ToUserID:              &platform,
				ExternalTransactionID: &externalID,
				ProcessedAt:           &now,
				FailureReason:         reason,
			})
			if err != nil {
				return nil, mapStoreError(err)
			}
		}
		return nil, nil
	})
}

// RequestRelease выплачивает эскроу фрилансеру за вычетом комиссии платформы.
// Инициатор: клиент, фрилансер платежа или администратор.
func (s *EscrowService) RequestRelease(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	return s.runner.run(ctx, "release", paymentID, func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
		if !actor.IsAdmin() && !p.IsParticipant(actor.UserID) {
			return nil, apperror.ErrForbidden
		}
		if err := s.guardPayout(ctx, tx, p, txs); err != nil {
			return nil, err
		}

		payout, fee := s.cfg.FeeRate.SplitFee(p.Amount)
		if err := s.appendRelease(ctx, tx, p, payout, fee); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// RequestRefund возвращает эскроу клиенту. Инициатор: клиент платежа или администратор.
func (s *EscrowService) RequestRefund(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	return s.runner.run(ctx, "refund", paymentID, func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
		if !actor.IsAdmin() && actor.UserID != p.ClientID {
			return nil, apperror.ErrForbidden
		}
		if err := s.guardPayout(ctx, tx, p, txs); err != nil {
			return nil, err
		}

		now := s.now()
		platform := s.cfg.PlatformAccountID
		err := tx.Append(ctx, &models.Transaction{
			PaymentID:   p.ID,
			Type:        models.TransactionTypeRefund,
			Amount:      p.Amount.Neg(),
			Status:      models.TransactionStatusCompleted,
			FromUserID:  &platform,
			ToUserID:    &p.ClientID,
			ProcessedAt: &now,
		})
		if err != nil {
			return nil, mapStoreError(err)
		}
		return nil, nil
	})
}

// ClearIntegrityHold снимает операторскую заморозку после ручной проверки.
// Пока журнал не согласован, снять заморозку нельзя.
func (s *EscrowService) ClearIntegrityHold(ctx context.Context, paymentID uuid.UUID, actor models.Actor) (*models.Payment, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}

	var (
		before *models.Payment
		after  *models.Payment
	)
	err := s.store.WithPaymentLock(ctx, paymentID, func(tx repository.LedgerTx) error {
		before = tx.Payment()
		if !before.IntegrityHold {
			after = before
			return nil
		}

		txs, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		if err := ledger.Verify(before, txs); err != nil {
			return err
		}
		if err := tx.SetIntegrityHold(ctx, false); err != nil {
			return err
		}

		// Эскалация, пришедшая во время заморозки, замораживает платёж сейчас.
		reports, err := tx.FraudReports(ctx)
		if err != nil {
			return err
		}
		if hasEscalation(reports) && (before.Status == valueobject.PaymentStatusPending || before.Status == valueobject.PaymentStatusEscrowed) {
			if err := tx.Append(ctx, disputeMarker(before.ID, s.now())); err != nil {
				return mapStoreError(err)
			}
			if err := tx.UpdateStatus(ctx, valueobject.PaymentStatusDisputed); err != nil {
				return err
			}
		}

		after = tx.Payment()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if before.IntegrityHold {
		if s.runner.cache != nil {
			s.runner.cache.Invalidate(ctx, paymentID)
		}
		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"payment_id": paymentID,
				"admin_id":   actor.UserID,
			}).Warn("integrity hold cleared")
		}
		publish(ctx, s.publisher, s.metrics, fillEvent(events.New(events.TypeIntegrityCleared, paymentID), after))
		for _, e := range transitionEvents(before, after) {
			publish(ctx, s.publisher, s.metrics, e)
		}
	}
	return after, nil
}

// guardPayout проверки перед выплатой или возвратом. Проверка жалоб идёт первой:
// платёж с активной жалобой всегда получает DisputeHoldActive, а не InvalidTransition.
func (s *EscrowService) guardPayout(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) error {
	if err := guardLedger(p, txs); err != nil {
		return err
	}

	reports, err := tx.FraudReports(ctx)
	if err != nil {
		return err
	}
	if hasActiveHold(reports) || p.Status == valueobject.PaymentStatusDisputed {
		return conflict(apperror.ErrDisputeHoldActive, p)
	}
	if p.Status != valueobject.PaymentStatusEscrowed {
		return conflict(apperror.ErrInvalidTransition, p)
	}
	return nil
}

// appendRelease выплата фрилансеру и отдельная транзакция комиссии платформы.
func (s *EscrowService) appendRelease(ctx context.Context, tx repository.LedgerTx, p *models.Payment, payout, fee decimal.Decimal) error {
	now := s.now()
	platform := s.cfg.PlatformAccountID

	err := tx.Append(ctx, &models.Transaction{
		PaymentID:     p.ID,
		Type:          models.TransactionTypeRelease,
		Amount:        payout.Neg(),
		Status:        models.TransactionStatusCompleted,
		FromUserID:    &platform,
		ToUserID:      &p.FreelancerID,
		ProcessingFee: fee,
		ProcessedAt:   &now,
	})
	if err != nil {
		return mapStoreError(err)
	}

	return appendFee(ctx, tx, p, platform, fee, now)
}

func appendFee(ctx context.Context, tx repository.LedgerTx, p *models.Payment, platform uuid.UUID, fee decimal.Decimal, now time.Time) error {
	if fee.IsZero() {
		return nil
	}
	err := tx.Append(ctx, &models.Transaction{
		PaymentID:   p.ID,
		Type:        models.TransactionTypeFeeCollection,
		Amount:      fee.Neg(),
		Status:      models.TransactionStatusCompleted,
		ToUserID:    &platform,
		ProcessedAt: &now,
	})
	if err != nil {
		return mapStoreError(err)
	}
	return nil
}

// guardLedger отказывает платежам на операторской заморозке и платежам,
// чей журнал уже не согласован с кэшированным статусом.
func guardLedger(p *models.Payment, txs []models.Transaction) error {
	if p.IntegrityHold {
		return conflict(apperror.ErrIntegrityHold, p)
	}
	return ledger.Verify(p, txs)
}

func hasActiveHold(reports []models.FraudReport) bool {
	for i := range reports {
		if reports[i].IsHold() {
			return true
		}
	}
	return false
}

func hasEscalation(reports []models.FraudReport) bool {
	for i := range reports {
		if reports[i].Status == models.FraudReportStatusEscalated {
			return true
		}
	}
	return false
}

// disputeMarker pending транзакция спора нулевой суммы: деньги не двигаются,
// но заморозка видна в журнале и статус остаётся выводимым из него.
func disputeMarker(paymentID uuid.UUID, now time.Time) *models.Transaction {
	return &models.Transaction{
		PaymentID: paymentID,
		Type:      models.TransactionTypeDisputeResolution,
		Amount:    decimal.Zero,
		Status:    models.TransactionStatusPending,
		CreatedAt: now,
	}
}
