package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

func settledTotal(f *fixture, txType string) float64 {
	return testutil.ToFloat64(f.metrics.SettledAmountTotal.WithLabelValues(txType, "USD"))
}

func TestTransitionRunner_RolledBackUnitNotCountedAsSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "500")
	require.Equal(t, 500.0, settledTotal(f, models.TransactionTypePayment))

	// Шаг успел записать выплату, но единица работы откатывается.
	_, err := f.escrow.runner.run(ctx, "release", p.ID, func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
		if err := f.escrow.appendRelease(ctx, tx, p, decimal.NewFromInt(475), decimal.NewFromInt(25)); err != nil {
			return nil, err
		}
		return nil, apperror.ErrForbidden
	})
	require.True(t, errors.Is(err, apperror.ErrForbidden))

	assert.Empty(t, f.txsOfType(t, p.ID, models.TransactionTypeRelease))
	assert.Zero(t, settledTotal(f, models.TransactionTypeRelease))
	assert.Zero(t, settledTotal(f, models.TransactionTypeFeeCollection))
}

func TestTransitionRunner_SettledCountedOncePerCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "500")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.escrow.RequestRelease(ctx, p.ID, clientOf(p))
		}()
	}
	wg.Wait()

	assert.Equal(t, 475.0, settledTotal(f, models.TransactionTypeRelease))
	assert.Equal(t, 25.0, settledTotal(f, models.TransactionTypeFeeCollection))

	// Повтор события шлюза ничего не проводит.
	_, err := f.escrow.RecordGatewayEvent(ctx, GatewayEvent{
		ExternalTransactionID: "gw-" + p.ID.String(),
		PaymentID:             p.ID,
		Outcome:               GatewayOutcomeSucceeded,
	})
	require.True(t, apperror.IsDuplicate(err))
	assert.Equal(t, 500.0, settledTotal(f, models.TransactionTypePayment))
}

func TestNewlySettled(t *testing.T) {
	pending := models.Transaction{Type: models.TransactionTypeRefund, Amount: decimal.NewFromInt(-10), Status: models.TransactionStatusPending}
	done := models.Transaction{Type: models.TransactionTypePayment, Amount: decimal.NewFromInt(10), Status: models.TransactionStatusCompleted}
	pending.ID, done.ID = uuid.New(), uuid.New()

	settledNow := pending
	settledNow.Status = models.TransactionStatusCompleted
	marker := models.Transaction{Type: models.TransactionTypeDisputeResolution, Amount: decimal.Zero, Status: models.TransactionStatusCompleted}
	marker.ID = uuid.New()

	got := newlySettled([]models.Transaction{pending, done}, []models.Transaction{settledNow, done, marker})
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}
