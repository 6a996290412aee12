// Package ledger содержит чистые функции агрегата платежа: вывод статуса
// из журнала транзакций и проверку балансовых инвариантов.
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// Derive сворачивает журнал в статус платежа. Порядок определяется Seq.
func Derive(txs []models.Transaction) valueobject.PaymentStatus {
	ordered := sortedBySeq(txs)

	base := valueobject.PaymentStatusPending
	disputed := false

	for i := range ordered {
		tx := &ordered[i]
		switch tx.Type {
		case models.TransactionTypePayment:
			if base != valueobject.PaymentStatusPending {
				continue
			}
			switch tx.Status {
			case models.TransactionStatusCompleted:
				base = valueobject.PaymentStatusEscrowed
			case models.TransactionStatusFailed:
				base = valueobject.PaymentStatusFailed
			}
		case models.TransactionTypeRelease:
			if tx.IsCompleted() {
				base = valueobject.PaymentStatusReleased
			}
		case models.TransactionTypeRefund:
			if tx.IsCompleted() {
				base = valueobject.PaymentStatusRefunded
			}
		case models.TransactionTypeDisputeResolution:
			switch tx.Status {
			case models.TransactionStatusPending:
				disputed = true
			case models.TransactionStatusCompleted:
				disputed = false
				if tx.ResolutionAction == nil {
					continue
				}
				switch valueobject.ResolutionAction(*tx.ResolutionAction) {
				case valueobject.ResolutionRelease:
					base = valueobject.PaymentStatusReleased
				case valueobject.ResolutionRefund:
					base = valueobject.PaymentStatusRefunded
				}
			}
		}
	}

	if disputed {
		return valueobject.PaymentStatusDisputed
	}
	return base
}

// BaseStatus статус без учёта заморозки спором: куда вернётся платёж при no_action.
func BaseStatus(txs []models.Transaction) valueobject.PaymentStatus {
	filtered := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Type == models.TransactionTypeDisputeResolution && tx.Status == models.TransactionStatusPending {
			continue
		}
		filtered = append(filtered, tx)
	}
	return Derive(filtered)
}

// Sum подписанная сумма завершённых транзакций.
func Sum(txs []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for i := range txs {
		if txs[i].IsCompleted() {
			total = total.Add(txs[i].Amount)
		}
	}
	return total
}

// OpenDisputeMarker возвращает pending транзакцию спора, если платёж заморожен.
func OpenDisputeMarker(txs []models.Transaction) *models.Transaction {
	for i := range txs {
		if txs[i].Type == models.TransactionTypeDisputeResolution && txs[i].Status == models.TransactionStatusPending {
			return &txs[i]
		}
	}
	return nil
}

// PendingFunding возвращает ожидающую подтверждения шлюза транзакцию payment.
func PendingFunding(txs []models.Transaction) *models.Transaction {
	for i := range txs {
		if txs[i].Type == models.TransactionTypePayment && txs[i].Status == models.TransactionStatusPending {
			return &txs[i]
		}
	}
	return nil
}

// Verify проверяет инварианты платежа относительно журнала.
// Ошибка здесь означает нарушение целостности и никогда не исправляется автоматически.
func Verify(payment *models.Payment, txs []models.Transaction) error {
	derived := Derive(txs)
	if derived != payment.Status {
		return apperror.ErrStatusMismatch.
			WithDetail("payment_id", payment.ID.String()).
			WithDetail("cached_status", payment.Status.String()).
			WithDetail("derived_status", derived.String())
	}

	balance := Sum(txs)
	ok := true
	switch derived {
	case valueobject.PaymentStatusReleased, valueobject.PaymentStatusRefunded,
		valueobject.PaymentStatusPending, valueobject.PaymentStatusFailed:
		ok = balance.IsZero()
	case valueobject.PaymentStatusEscrowed:
		ok = balance.Equal(payment.Amount)
	case valueobject.PaymentStatusDisputed:
		ok = balance.IsZero() || balance.Equal(payment.Amount)
	}

	if !ok {
		return apperror.ErrImbalancedLedger.
			WithDetail("payment_id", payment.ID.String()).
			WithDetail("status", derived.String()).
			WithDetail("balance", balance.String())
	}
	return nil
}

func sortedBySeq(txs []models.Transaction) []models.Transaction {
	ordered := make([]models.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Seq < ordered[j].Seq
	})
	return ordered
}
