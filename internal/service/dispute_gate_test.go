package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

func TestDisputeGate_EscalationFreezesAndResolvedReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "500")
	reportID := uuid.New()

	disputed, err := f.report(t, p, reportID, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusDisputed, disputed.Status)
	assert.Equal(t, 1, f.published.count(events.TypePaymentDisputed))

	_, err = f.escrow.RequestRelease(ctx, p.ID, clientOf(p))
	assert.True(t, errors.Is(err, apperror.ErrDisputeHoldActive))

	// Пока жалоба эскалирована, решение применить нельзя.
	_, err = f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRelease, admin)
	assert.True(t, errors.Is(err, apperror.ErrDisputeHoldActive))

	released, err := f.report(t, p, reportID, models.FraudReportStatusResolved, "release")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusReleased, released.Status)

	resolutions := f.txsOfType(t, p.ID, models.TransactionTypeDisputeResolution)
	require.Len(t, resolutions, 1)
	assert.Equal(t, models.TransactionStatusCompleted, resolutions[0].Status)
	assert.Equal(t, "release", *resolutions[0].ResolutionAction)
	assert.True(t, resolutions[0].Amount.Equal(decimal.NewFromInt(-475)))
	assert.Equal(t, p.FreelancerID, *resolutions[0].ToUserID)

	fees := f.txsOfType(t, p.ID, models.TransactionTypeFeeCollection)
	require.Len(t, fees, 1)
	assert.True(t, fees[0].Amount.Equal(decimal.NewFromInt(-25)))

	balance, err := f.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.Equal(t, 1, f.published.count(events.TypeDisputeResolved))
	assert.Equal(t, 1, f.published.count(events.TypePaymentReleased))
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_DismissedReturnsToEscrowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "120")
	reportID := uuid.New()

	_, err := f.report(t, p, reportID, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)

	got, err := f.report(t, p, reportID, models.FraudReportStatusDismissed, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusEscrowed, got.Status)

	resolutions := f.txsOfType(t, p.ID, models.TransactionTypeDisputeResolution)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "no_action", *resolutions[0].ResolutionAction)
	assert.True(t, resolutions[0].Amount.IsZero())

	balance, err := f.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(120)))

	// После закрытия спора обычные переходы снова доступны.
	refunded, err := f.escrow.RequestRefund(ctx, p.ID, clientOf(p))
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusRefunded, refunded.Status)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_DismissedReportDoesNotConflictWithResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "200")
	first, second := uuid.New(), uuid.New()

	_, err := f.report(t, p, first, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	_, err = f.report(t, p, second, models.FraudReportStatusUnderReview, "")
	require.NoError(t, err)
	_, err = f.report(t, p, first, models.FraudReportStatusResolved, "release")
	require.NoError(t, err)

	got, err := f.report(t, p, second, models.FraudReportStatusDismissed, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusReleased, got.Status)

	stored, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.IntegrityHold)
	assert.Zero(t, f.published.count(events.TypeIntegrityViolation))

	resolutions := f.txsOfType(t, p.ID, models.TransactionTypeDisputeResolution)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "release", *resolutions[0].ResolutionAction)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_RecordedRecommendationSurvivesClosingNotice(t *testing.T) {
	f := newFixture(t)
	p := f.escrowed(t, "150")
	reportID := uuid.New()

	_, err := f.report(t, p, reportID, models.FraudReportStatusEscalated, "release")
	require.NoError(t, err)

	// Закрывающее уведомление без решения не стирает ранее записанную рекомендацию.
	got, err := f.report(t, p, reportID, models.FraudReportStatusResolved, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusReleased, got.Status)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_AdminAppliesRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "80")
	reportID := uuid.New()

	_, err := f.report(t, p, reportID, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)

	// Жалоба закрыта без решения: платёж ждёт администратора.
	got, err := f.report(t, p, reportID, models.FraudReportStatusResolved, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusDisputed, got.Status)

	_, err = f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRefund, clientOf(p))
	assert.True(t, apperror.IsForbidden(err))

	refunded, err := f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRefund, admin)
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusRefunded, refunded.Status)

	resolutions := f.txsOfType(t, p.ID, models.TransactionTypeDisputeResolution)
	require.Len(t, resolutions, 1)
	assert.True(t, resolutions[0].Amount.Equal(decimal.NewFromInt(-80)))
	assert.Equal(t, p.ClientID, *resolutions[0].ToUserID)
	assert.Empty(t, f.txsOfType(t, p.ID, models.TransactionTypeFeeCollection))

	_, err = f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRefund, admin)
	assert.True(t, errors.Is(err, apperror.ErrNoActiveDispute))
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_ApplyResolutionWithoutDispute(t *testing.T) {
	f := newFixture(t)
	p := f.escrowed(t, "50")

	_, err := f.gate.ApplyResolution(context.Background(), p.ID, valueobject.ResolutionRelease, admin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNoActiveDispute))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "escrowed", appErr.Details["status"])
}

func TestDisputeGate_AmbiguousOpenRecommendations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "300")
	first, second := uuid.New(), uuid.New()

	_, err := f.report(t, p, first, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	_, err = f.report(t, p, second, models.FraudReportStatusUnderReview, "refund")
	require.NoError(t, err)
	_, err = f.report(t, p, first, models.FraudReportStatusEscalated, "release")
	require.NoError(t, err)

	_, err = f.gate.ApplyResolution(ctx, p.ID, "", admin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrAmbiguousResolution))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"refund", "release"}, appErr.Details["actions"])

	got, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IntegrityHold)
	assert.Equal(t, valueobject.PaymentStatusDisputed, got.Status)

	_, err = f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRefund, admin)
	assert.True(t, errors.Is(err, apperror.ErrIntegrityHold))
}

func TestDisputeGate_AmbiguousClosedReportsDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "300")
	first, second := uuid.New(), uuid.New()

	_, err := f.report(t, p, first, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	_, err = f.report(t, p, second, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	_, err = f.report(t, p, first, models.FraudReportStatusResolved, "release")
	require.NoError(t, err)

	// Закрытие последней жалобы записывается, а противоречие уходит оператору.
	got, err := f.report(t, p, second, models.FraudReportStatusResolved, "refund")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusDisputed, got.Status)

	stored, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.IntegrityHold)
	assert.Equal(t, 1, f.published.count(events.TypeIntegrityViolation))

	reports, err := f.ledger.Holds(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, models.FraudReportStatusResolved, r.Status)
	}

	// Явное решение администратора снимает неоднозначность после снятия заморозки.
	_, err = f.escrow.ClearIntegrityHold(ctx, p.ID, admin)
	require.NoError(t, err)
	resolved, err := f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRefund, admin)
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusRefunded, resolved.Status)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_DisputeBeforeFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund(t, "90")
	reportID := uuid.New()

	got, err := f.report(t, p, reportID, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusDisputed, got.Status)

	// Деньги пришли во время спора: статус остаётся disputed, средства удерживаются.
	got, err = f.escrow.RecordGatewayEvent(ctx, GatewayEvent{
		ExternalTransactionID: "gw-during-dispute",
		PaymentID:             p.ID,
		Outcome:               GatewayOutcomeSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusDisputed, got.Status)

	balance, err := f.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(90)))

	got, err = f.report(t, p, reportID, models.FraudReportStatusDismissed, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusEscrowed, got.Status)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_ReleasePostponedUntilFunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund(t, "90")
	reportID := uuid.New()

	_, err := f.report(t, p, reportID, models.FraudReportStatusEscalated, "")
	require.NoError(t, err)

	got, err := f.report(t, p, reportID, models.FraudReportStatusResolved, "release")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusDisputed, got.Status)

	_, err = f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionRelease, admin)
	assert.True(t, errors.Is(err, apperror.ErrInvalidTransition))

	// no_action возвращает неоплаченный платёж в pending.
	got, err = f.gate.ApplyResolution(ctx, p.ID, valueobject.ResolutionNoAction, admin)
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusPending, got.Status)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_EscalationOnTerminalPaymentIsRecordedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "60")

	_, err := f.escrow.RequestRelease(ctx, p.ID, clientOf(p))
	require.NoError(t, err)

	got, err := f.report(t, p, uuid.New(), models.FraudReportStatusEscalated, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusReleased, got.Status)

	hold, err := f.gate.HasActiveHold(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, hold)
	f.requireConsistent(t, p.ID)
}

func TestDisputeGate_HasActiveHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.escrowed(t, "60")
	reportID := uuid.New()

	hold, err := f.gate.HasActiveHold(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, hold)

	_, err = f.report(t, p, reportID, models.FraudReportStatusPending, "")
	require.NoError(t, err)
	hold, err = f.gate.HasActiveHold(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, hold)

	_, err = f.report(t, p, reportID, models.FraudReportStatusUnderReview, "")
	require.NoError(t, err)
	hold, err = f.gate.HasActiveHold(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, hold)

	_, err = f.gate.HasActiveHold(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperror.ErrUnknownPayment))
}

func TestDisputeGate_NoticeValidation(t *testing.T) {
	f := newFixture(t)
	p := f.escrowed(t, "60")

	_, err := f.report(t, p, uuid.New(), "closed", "")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.report(t, p, uuid.Nil, models.FraudReportStatusEscalated, "")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.report(t, p, uuid.New(), models.FraudReportStatusResolved, "chargeback")
	assert.True(t, apperror.IsValidation(err))
}
