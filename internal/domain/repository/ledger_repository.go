package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/models"
)

var (
	ErrTransactionNotPending = errors.New("transaction is not pending")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrForeignPayment        = errors.New("transaction belongs to another payment")
	ErrInvalidTransaction    = errors.New("invalid transaction")
)

// LedgerTx единица работы над одним платежом. Все записи внутри неё
// фиксируются атомарно, пока удерживается блокировка платежа.
type LedgerTx interface {
	// Payment возвращает заблокированную запись платежа (с учётом изменений в этой единице работы).
	Payment() *models.Payment
	Transactions(ctx context.Context) ([]models.Transaction, error)
	FraudReports(ctx context.Context) ([]models.FraudReport, error)
	// Append добавляет транзакцию. ErrDuplicateExternalID при повторе ключа шлюза.
	Append(ctx context.Context, tx *models.Transaction) error
	// Settle завершает pending транзакцию. Завершённые транзакции не меняются.
	Settle(ctx context.Context, txID uuid.UUID, s models.Settlement) error
	UpdateStatus(ctx context.Context, status valueobject.PaymentStatus) error
	SetIntegrityHold(ctx context.Context, hold bool) error
	UpsertFraudReport(ctx context.Context, report *models.FraudReport) error
}

// LedgerStore хранилище платежей и журнала транзакций.
type LedgerStore interface {
	// CreatePayment атомарно создаёт платёж и его начальную транзакцию.
	CreatePayment(ctx context.Context, payment *models.Payment, intent *models.Transaction) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	// ListPaymentIDs постраничный обход по id (keyset) для сверки.
	ListPaymentIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)

	Append(ctx context.Context, tx *models.Transaction) (uuid.UUID, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error)
	Balance(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	ListFraudReports(ctx context.Context, paymentID uuid.UUID) ([]models.FraudReport, error)

	// WithPaymentLock выполняет fn под блокировкой платежа. Ошибка fn
	// откатывает все записи единицы работы.
	WithPaymentLock(ctx context.Context, paymentID uuid.UUID, fn func(tx LedgerTx) error) error
}

// ValidateForAppend общая проверка транзакции перед записью.
func ValidateForAppend(payment *models.Payment, tx *models.Transaction) error {
	if tx.PaymentID != payment.ID {
		return ErrForeignPayment
	}
	if _, ok := models.ValidTransactionTypes[tx.Type]; !ok {
		return ErrInvalidTransaction
	}
	switch tx.Status {
	case models.TransactionStatusPending, models.TransactionStatusCompleted,
		models.TransactionStatusFailed, models.TransactionStatusCancelled:
	default:
		return ErrInvalidTransaction
	}
	return nil
}
