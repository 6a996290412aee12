package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
)

// Типы транзакций
const (
	TransactionTypePayment           = "payment"
	TransactionTypeEscrow            = "escrow"
	TransactionTypeRelease           = "release"
	TransactionTypeRefund            = "refund"
	TransactionTypeFeeCollection     = "fee_collection"
	TransactionTypeDisputeResolution = "dispute_resolution"
)

// Статусы транзакций
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

// ValidTransactionTypes список валидных типов транзакций
var ValidTransactionTypes = map[string]struct{}{
	TransactionTypePayment:           {},
	TransactionTypeEscrow:            {},
	TransactionTypeRelease:           {},
	TransactionTypeRefund:            {},
	TransactionTypeFeeCollection:     {},
	TransactionTypeDisputeResolution: {},
}

// Payment сводная запись по финансированию заказа.
// Status это кэш: источник истины всегда последовательность транзакций.
type Payment struct {
	ID            uuid.UUID                 `db:"id" json:"id"`
	JobID         uuid.UUID                 `db:"job_id" json:"job_id"`
	ClientID      uuid.UUID                 `db:"client_id" json:"client_id"`
	FreelancerID  uuid.UUID                 `db:"freelancer_id" json:"freelancer_id"`
	Amount        decimal.Decimal           `db:"amount" json:"amount"`
	Currency      string                    `db:"currency" json:"currency"`
	Status        valueobject.PaymentStatus `db:"status" json:"status"`
	IntegrityHold bool                      `db:"integrity_hold" json:"integrity_hold"`
	CreatedAt     time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                 `db:"updated_at" json:"updated_at"`
}

// IsParticipant проверяет, что пользователь клиент или фрилансер платежа.
func (p *Payment) IsParticipant(userID uuid.UUID) bool {
	return p.ClientID == userID || p.FreelancerID == userID
}

// Transaction запись леджера. После status = completed не изменяется.
type Transaction struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	Seq                   int64           `db:"seq" json:"seq"`
	PaymentID             uuid.UUID       `db:"payment_id" json:"payment_id"`
	Type                  string          `db:"type" json:"type"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	Status                string          `db:"status" json:"status"`
	FromUserID            *uuid.UUID      `db:"from_user_id" json:"from_user_id,omitempty"`
	ToUserID              *uuid.UUID      `db:"to_user_id" json:"to_user_id,omitempty"`
	ExternalTransactionID *string         `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	ProcessingFee         decimal.Decimal `db:"processing_fee" json:"processing_fee"`
	ResolutionAction      *string         `db:"resolution_action" json:"resolution_action,omitempty"`
	ProcessedAt           *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	FailureReason         *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// IsCompleted true, если транзакция учитывается в балансе.
func (t *Transaction) IsCompleted() bool {
	return t.Status == TransactionStatusCompleted
}

// HasExternalID сравнивает ключ идемпотентности шлюза.
func (t *Transaction) HasExternalID(externalID string) bool {
	return t.ExternalTransactionID != nil && *t.ExternalTransactionID == externalID
}

// Settlement итог обработки pending транзакции.
type Settlement struct {
	Status           string
	Amount           *decimal.Decimal
	ToUserID         *uuid.UUID
	ExternalID       *string
	ResolutionAction *string
	FailureReason    *string
	ProcessedAt      time.Time
}
