package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	domainrepo "github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-ledger/internal/repository/common"
)

const externalIDIndex = "ux_transactions_payment_external"

const transactionColumns = `id, seq, payment_id, type, amount, status, from_user_id, to_user_id,
	external_transaction_id, processing_fee, resolution_action, processed_at, failure_reason, created_at`

// LedgerRepository хранилище леджера в PostgreSQL.
// Сериализация по платежу обеспечивается SELECT ... FOR UPDATE строки payments.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ domainrepo.LedgerStore = (*LedgerRepository)(nil)

// CreatePayment создаёт платёж и начальную транзакцию в одной транзакции БД.
func (r *LedgerRepository) CreatePayment(ctx context.Context, payment *models.Payment, intent *models.Transaction) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO payments (id, job_id, client_id, freelancer_id, amount, currency, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, payment.ID, payment.JobID, payment.ClientID, payment.FreelancerID, payment.Amount, payment.Currency, payment.Status).
			Scan(&payment.CreatedAt, &payment.UpdatedAt)
		if err != nil {
			if common.IsUniqueViolation(err, "") {
				return apperror.New(apperror.ErrCodeBadRequest, "платёж уже существует")
			}
			return fmt.Errorf("ledger repository: create payment %w", err)
		}

		if intent == nil {
			return nil
		}
		intent.PaymentID = payment.ID
		if err := domainrepo.ValidateForAppend(payment, intent); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, intent)
	})
}

func (r *LedgerRepository) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return common.GetByID[models.Payment](ctx, r.db, "payments", id, apperror.ErrUnknownPayment)
}

func (r *LedgerRepository) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list payments %w", err)
	}
	return payments, nil
}

func (r *LedgerRepository) ListPaymentIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM payments WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list payment ids %w", err)
	}
	return ids, nil
}

func (r *LedgerRepository) Append(ctx context.Context, tx *models.Transaction) (uuid.UUID, error) {
	err := r.WithPaymentLock(ctx, tx.PaymentID, func(ltx domainrepo.LedgerTx) error {
		return ltx.Append(ctx, tx)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return tx.ID, nil
}

func (r *LedgerRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	if err := r.ensurePayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return selectTransactions(ctx, r.db, paymentID)
}

func (r *LedgerRepository) Balance(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	if err := r.ensurePayment(ctx, paymentID); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE payment_id = $1 AND status = 'completed'
	`, paymentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger repository: balance %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) ListFraudReports(ctx context.Context, paymentID uuid.UUID) ([]models.FraudReport, error) {
	return selectFraudReports(ctx, r.db, paymentID)
}

// WithPaymentLock блокирует строку платежа до конца транзакции БД.
func (r *LedgerRepository) WithPaymentLock(ctx context.Context, paymentID uuid.UUID, fn func(tx domainrepo.LedgerTx) error) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var payment models.Payment
		err := tx.GetContext(ctx, &payment, `SELECT * FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrUnknownPayment
			}
			return fmt.Errorf("ledger repository: lock payment %w", err)
		}
		return fn(&pgLedgerTx{tx: tx, payment: &payment})
	})
}

func (r *LedgerRepository) ensurePayment(ctx context.Context, paymentID uuid.UUID) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, paymentID); err != nil {
		return fmt.Errorf("ledger repository: check payment %w", err)
	}
	if !exists {
		return apperror.ErrUnknownPayment
	}
	return nil
}

// pgLedgerTx единица работы поверх открытой транзакции БД.
type pgLedgerTx struct {
	tx      *sqlx.Tx
	payment *models.Payment
}

func (t *pgLedgerTx) Payment() *models.Payment {
	p := *t.payment
	return &p
}

func (t *pgLedgerTx) Transactions(ctx context.Context) ([]models.Transaction, error) {
	return selectTransactions(ctx, t.tx, t.payment.ID)
}

func (t *pgLedgerTx) FraudReports(ctx context.Context) ([]models.FraudReport, error) {
	return selectFraudReports(ctx, t.tx, t.payment.ID)
}

func (t *pgLedgerTx) Append(ctx context.Context, tx *models.Transaction) error {
	if err := domainrepo.ValidateForAppend(t.payment, tx); err != nil {
		return err
	}

	if tx.ExternalTransactionID != nil {
		var exists bool
		err := t.tx.GetContext(ctx, &exists, `
			SELECT EXISTS(SELECT 1 FROM transactions WHERE payment_id = $1 AND external_transaction_id = $2)
		`, t.payment.ID, *tx.ExternalTransactionID)
		if err != nil {
			return fmt.Errorf("ledger repository: check external id %w", err)
		}
		if exists {
			return apperror.ErrDuplicateExternalID
		}
	}

	return insertTransaction(ctx, t.tx, tx)
}

func (t *pgLedgerTx) Settle(ctx context.Context, txID uuid.UUID, st models.Settlement) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions SET
			status = $3,
			amount = COALESCE($4, amount),
			to_user_id = COALESCE($5, to_user_id),
			external_transaction_id = COALESCE($6, external_transaction_id),
			resolution_action = COALESCE($7, resolution_action),
			failure_reason = COALESCE($8, failure_reason),
			processed_at = $9
		WHERE id = $1 AND payment_id = $2 AND status = 'pending'
	`, txID, t.payment.ID, st.Status, nullableDecimal(st.Amount), st.ToUserID, st.ExternalID,
		st.ResolutionAction, st.FailureReason, st.ProcessedAt)
	if err != nil {
		if common.IsUniqueViolation(err, externalIDIndex) {
			return apperror.ErrDuplicateExternalID
		}
		return fmt.Errorf("ledger repository: settle transaction %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger repository: settle rows %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1 AND payment_id = $2)`, txID, t.payment.ID); err != nil {
		return fmt.Errorf("ledger repository: settle lookup %w", err)
	}
	if exists {
		return domainrepo.ErrTransactionNotPending
	}
	return domainrepo.ErrTransactionNotFound
}

func (t *pgLedgerTx) UpdateStatus(ctx context.Context, status valueobject.PaymentStatus) error {
	err := t.tx.GetContext(ctx, &t.payment.UpdatedAt, `
		UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at
	`, t.payment.ID, status)
	if err != nil {
		return fmt.Errorf("ledger repository: update status %w", err)
	}
	t.payment.Status = status
	return nil
}

func (t *pgLedgerTx) SetIntegrityHold(ctx context.Context, hold bool) error {
	err := t.tx.GetContext(ctx, &t.payment.UpdatedAt, `
		UPDATE payments SET integrity_hold = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at
	`, t.payment.ID, hold)
	if err != nil {
		return fmt.Errorf("ledger repository: set integrity hold %w", err)
	}
	t.payment.IntegrityHold = hold
	return nil
}

func (t *pgLedgerTx) UpsertFraudReport(ctx context.Context, report *models.FraudReport) error {
	paymentID := t.payment.ID
	report.RelatedPayment = &paymentID

	// Участники из первой записи, пустое решение не затирает записанное.
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO fraud_reports (id, reported_user, reported_by, related_payment, status, resolution_action, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			related_payment = EXCLUDED.related_payment,
			status = EXCLUDED.status,
			resolution_action = COALESCE(EXCLUDED.resolution_action, fraud_reports.resolution_action),
			updated_at = NOW()
		RETURNING reported_user, reported_by, resolution_action, updated_at
	`, report.ID, report.ReportedUser, report.ReportedBy, report.RelatedPayment, report.Status, report.ResolutionAction).
		Scan(&report.ReportedUser, &report.ReportedBy, &report.ResolutionAction, &report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger repository: upsert fraud report %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	err := tx.QueryRowxContext(ctx, `
		INSERT INTO transactions (id, payment_id, type, amount, status, from_user_id, to_user_id,
			external_transaction_id, processing_fee, resolution_action, processed_at, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, created_at
	`, t.ID, t.PaymentID, t.Type, t.Amount, t.Status, t.FromUserID, t.ToUserID,
		t.ExternalTransactionID, t.ProcessingFee, t.ResolutionAction, t.ProcessedAt, t.FailureReason).
		Scan(&t.Seq, &t.CreatedAt)
	if err != nil {
		switch {
		case common.IsUniqueViolation(err, externalIDIndex):
			return apperror.ErrDuplicateExternalID
		case common.IsForeignKeyViolation(err):
			return apperror.ErrUnknownPayment
		}
		return fmt.Errorf("ledger repository: insert transaction %w", err)
	}
	return nil
}

func selectTransactions(ctx context.Context, q sqlx.QueryerContext, paymentID uuid.UUID) ([]models.Transaction, error) {
	txs := []models.Transaction{}
	err := sqlx.SelectContext(ctx, q, &txs, `SELECT `+transactionColumns+` FROM transactions WHERE payment_id = $1 ORDER BY seq`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list transactions %w", err)
	}
	return txs, nil
}

func selectFraudReports(ctx context.Context, q sqlx.QueryerContext, paymentID uuid.UUID) ([]models.FraudReport, error) {
	reports := []models.FraudReport{}
	err := sqlx.SelectContext(ctx, q, &reports, `
		SELECT * FROM fraud_reports WHERE related_payment = $1 ORDER BY updated_at
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list fraud reports %w", err)
	}
	return reports, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return *d
}
