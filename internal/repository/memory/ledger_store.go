// Package memory реализует LedgerStore в памяти процесса. Используется в
// тестах и при STORAGE_DRIVER=memory для локальной разработки.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// LedgerStore хранит платежи, журнал и проекцию жалоб.
// mu защищает данные, paymentLocks сериализуют единицы работы по платежу.
type LedgerStore struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*models.Payment
	txs      map[uuid.UUID][]models.Transaction
	reports  map[uuid.UUID]*models.FraudReport

	paymentLocks sync.Map
	seq          atomic.Int64
	now          func() time.Time
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		payments: make(map[uuid.UUID]*models.Payment),
		txs:      make(map[uuid.UUID][]models.Transaction),
		reports:  make(map[uuid.UUID]*models.FraudReport),
		now:      time.Now,
	}
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

func (s *LedgerStore) CreatePayment(ctx context.Context, payment *models.Payment, intent *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if _, exists := s.payments[payment.ID]; exists {
		return apperror.New(apperror.ErrCodeBadRequest, "платёж уже существует")
	}

	now := s.now()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	var txs []models.Transaction
	if intent != nil {
		intent.PaymentID = payment.ID
		if err := repository.ValidateForAppend(payment, intent); err != nil {
			return err
		}
		s.stamp(intent, now)
		txs = append(txs, *intent)
	}

	p := *payment
	s.payments[p.ID] = &p
	s.txs[p.ID] = txs
	return nil
}

func (s *LedgerStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, apperror.ErrUnknownPayment
	}
	cp := *p
	return &cp, nil
}

func (s *LedgerStore) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Payment
	for _, p := range s.payments {
		if p.IsParticipant(userID) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return []models.Payment{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (s *LedgerStore) ListPaymentIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.payments))
	for id := range s.payments {
		if bytes.Compare(id[:], after[:]) > 0 {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *LedgerStore) Append(ctx context.Context, tx *models.Transaction) (uuid.UUID, error) {
	err := s.WithPaymentLock(ctx, tx.PaymentID, func(ltx repository.LedgerTx) error {
		return ltx.Append(ctx, tx)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return tx.ID, nil
}

func (s *LedgerStore) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.payments[paymentID]; !ok {
		return nil, apperror.ErrUnknownPayment
	}
	return copyTxs(s.txs[paymentID]), nil
}

func (s *LedgerStore) Balance(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.payments[paymentID]; !ok {
		return decimal.Zero, apperror.ErrUnknownPayment
	}
	total := decimal.Zero
	for _, tx := range s.txs[paymentID] {
		if tx.IsCompleted() {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (s *LedgerStore) ListFraudReports(ctx context.Context, paymentID uuid.UUID) ([]models.FraudReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reportsFor(paymentID), nil
}

func (s *LedgerStore) WithPaymentLock(ctx context.Context, paymentID uuid.UUID, fn func(tx repository.LedgerTx) error) error {
	lock := s.lockFor(paymentID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	p, ok := s.payments[paymentID]
	if !ok {
		s.mu.RUnlock()
		return apperror.ErrUnknownPayment
	}
	work := &unitOfWork{
		store:   s,
		payment: *p,
		txs:     copyTxs(s.txs[paymentID]),
		reports: make(map[uuid.UUID]models.FraudReport),
	}
	for _, r := range s.reportsFor(paymentID) {
		work.reports[r.ID] = r
	}
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	// Коммит: единица работы применяется целиком.
	s.mu.Lock()
	defer s.mu.Unlock()
	p2 := work.payment
	s.payments[paymentID] = &p2
	s.txs[paymentID] = work.txs
	for id, r := range work.reports {
		rc := r
		s.reports[id] = &rc
	}
	return nil
}

func (s *LedgerStore) lockFor(paymentID uuid.UUID) *sync.Mutex {
	l, _ := s.paymentLocks.LoadOrStore(paymentID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *LedgerStore) reportsFor(paymentID uuid.UUID) []models.FraudReport {
	var result []models.FraudReport
	for _, r := range s.reports {
		if r.RelatedPayment != nil && *r.RelatedPayment == paymentID {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result
}

func (s *LedgerStore) stamp(tx *models.Transaction, now time.Time) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.Seq = s.seq.Add(1)
	tx.CreatedAt = now
}

// unitOfWork накапливает изменения одного платежа до коммита.
type unitOfWork struct {
	store   *LedgerStore
	payment models.Payment
	txs     []models.Transaction
	reports map[uuid.UUID]models.FraudReport
}

func (u *unitOfWork) Payment() *models.Payment {
	p := u.payment
	return &p
}

func (u *unitOfWork) Transactions(ctx context.Context) ([]models.Transaction, error) {
	return copyTxs(u.txs), nil
}

func (u *unitOfWork) FraudReports(ctx context.Context) ([]models.FraudReport, error) {
	result := make([]models.FraudReport, 0, len(u.reports))
	for _, r := range u.reports {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

func (u *unitOfWork) Append(ctx context.Context, tx *models.Transaction) error {
	if err := repository.ValidateForAppend(&u.payment, tx); err != nil {
		return err
	}
	if tx.ExternalTransactionID != nil && u.hasExternalID(*tx.ExternalTransactionID) {
		return apperror.ErrDuplicateExternalID
	}

	u.store.stamp(tx, u.store.now())
	u.txs = append(u.txs, *tx)
	return nil
}

func (u *unitOfWork) Settle(ctx context.Context, txID uuid.UUID, st models.Settlement) error {
	for i := range u.txs {
		tx := &u.txs[i]
		if tx.ID != txID {
			continue
		}
		if tx.Status != models.TransactionStatusPending {
			return repository.ErrTransactionNotPending
		}
		if st.ExternalID != nil && u.hasExternalID(*st.ExternalID) {
			return apperror.ErrDuplicateExternalID
		}

		tx.Status = st.Status
		if st.Amount != nil {
			tx.Amount = *st.Amount
		}
		if st.ToUserID != nil {
			tx.ToUserID = st.ToUserID
		}
		if st.ExternalID != nil {
			tx.ExternalTransactionID = st.ExternalID
		}
		if st.ResolutionAction != nil {
			tx.ResolutionAction = st.ResolutionAction
		}
		if st.FailureReason != nil {
			tx.FailureReason = st.FailureReason
		}
		processed := st.ProcessedAt
		tx.ProcessedAt = &processed
		return nil
	}
	return repository.ErrTransactionNotFound
}

func (u *unitOfWork) UpdateStatus(ctx context.Context, status valueobject.PaymentStatus) error {
	u.payment.Status = status
	u.payment.UpdatedAt = u.store.now()
	return nil
}

func (u *unitOfWork) SetIntegrityHold(ctx context.Context, hold bool) error {
	u.payment.IntegrityHold = hold
	u.payment.UpdatedAt = u.store.now()
	return nil
}

// UpsertFraudReport повторяет ON CONFLICT драйвера Postgres: участники жалобы
// берутся из первой записи, пустое решение не затирает записанное.
func (u *unitOfWork) UpsertFraudReport(ctx context.Context, report *models.FraudReport) error {
	paymentID := u.payment.ID
	report.RelatedPayment = &paymentID

	if existing, ok := u.existingReport(report.ID); ok {
		report.ReportedUser = existing.ReportedUser
		report.ReportedBy = existing.ReportedBy
		if report.ResolutionAction == nil {
			report.ResolutionAction = existing.ResolutionAction
		}
	}

	report.UpdatedAt = u.store.now()
	u.reports[report.ID] = *report
	return nil
}

// existingReport ищет жалобу в единице работы, затем среди жалоб других платежей.
func (u *unitOfWork) existingReport(id uuid.UUID) (models.FraudReport, bool) {
	if r, ok := u.reports[id]; ok {
		return r, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if r, ok := u.store.reports[id]; ok {
		return *r, true
	}
	return models.FraudReport{}, false
}

func (u *unitOfWork) hasExternalID(externalID string) bool {
	for i := range u.txs {
		if u.txs[i].HasExternalID(externalID) {
			return true
		}
	}
	return false
}

func copyTxs(txs []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(txs))
	copy(out, txs)
	return out
}
