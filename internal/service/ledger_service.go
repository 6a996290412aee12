package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/domain/ledger"
	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// snapshotAttempts сколько раз Reconcile перечитывает платёж, если его изменили во время чтения.
const snapshotAttempts = 3

// LedgerService чтение леджера и проверка инвариантов платежа. Блокировок не берёт.
type LedgerService struct {
	store repository.LedgerStore
	cache StatusCache
}

func NewLedgerService(store repository.LedgerStore, cache StatusCache) *LedgerService {
	return &LedgerService{store: store, cache: cache}
}

// CurrentStatus статус, выведенный из журнала транзакций.
func (s *LedgerService) CurrentStatus(ctx context.Context, paymentID uuid.UUID) (valueobject.PaymentStatus, error) {
	if s.cache != nil {
		if status, ok := s.cache.Get(ctx, paymentID); ok {
			return status, nil
		}
	}

	payment, txs, err := s.snapshot(ctx, paymentID)
	if err != nil {
		return "", err
	}
	status := ledger.Derive(txs)

	if s.cache != nil {
		s.cache.Set(ctx, paymentID, status)
		// Переход, зафиксированный между чтением и Set, мог уже сбросить кэш до нашей записи.
		if latest, err := s.store.GetPayment(ctx, paymentID); err != nil || !latest.UpdatedAt.Equal(payment.UpdatedAt) {
			s.cache.Invalidate(ctx, paymentID)
		}
	}
	return status, nil
}

func (s *LedgerService) Balance(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	return s.store.Balance(ctx, paymentID)
}

func (s *LedgerService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

// History транзакции платежа, старые первыми.
func (s *LedgerService) History(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	return s.store.ListByPayment(ctx, paymentID)
}

func (s *LedgerService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPaymentsByUser(ctx, userID, limit, offset)
}

func (s *LedgerService) Holds(ctx context.Context, paymentID uuid.UUID) ([]models.FraudReport, error) {
	if _, err := s.store.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.store.ListFraudReports(ctx, paymentID)
}

// Reconcile проверяет кэшированный статус и баланс платежа по журналу.
// Только читает: найденное нарушение возвращается вызывающему и не исправляется.
func (s *LedgerService) Reconcile(ctx context.Context, paymentID uuid.UUID) error {
	payment, txs, err := s.snapshot(ctx, paymentID)
	if err != nil {
		return err
	}
	return ledger.Verify(payment, txs)
}

// snapshot согласованное чтение платежа и журнала без блокировки.
// Каждая запись в журнал обновляет updated_at платежа, поэтому совпадение
// updated_at до и после чтения журнала означает, что журнал не менялся.
func (s *LedgerService) snapshot(ctx context.Context, paymentID uuid.UUID) (*models.Payment, []models.Transaction, error) {
	for attempt := 0; ; attempt++ {
		first, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, nil, err
		}
		txs, err := s.store.ListByPayment(ctx, paymentID)
		if err != nil {
			return nil, nil, err
		}
		second, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, nil, err
		}

		if first.UpdatedAt.Equal(second.UpdatedAt) {
			return second, txs, nil
		}
		if attempt+1 >= snapshotAttempts {
			return nil, nil, apperror.New(apperror.ErrCodeInternal, "платёж постоянно меняется, повторите сверку позже")
		}
	}
}
