// Package storetest общие сценарии для драйверов LedgerStore.
// Каждый драйвер запускает их из своих тестов, чтобы поведение совпадало.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/models"
)

// NewStore возвращает пустое или общее хранилище для одного сценария.
type NewStore func(t *testing.T) repository.LedgerStore

var errRollback = errors.New("rollback")

type upsert struct {
	// payment индекс платежа сценария, через который пишется жалоба.
	payment      int
	reportedUser uuid.UUID
	reportedBy   uuid.UUID
	status       string
	action       *string
	rollback     bool
}

type expectation struct {
	payment      int
	status       string
	action       *string
	reportedUser uuid.UUID
	reportedBy   uuid.UUID
}

func action(s string) *string { return &s }

// FraudReportUpserts проверяет слияние жалобы при повторной записи:
// участники берутся из первой записи, пустое решение не затирает записанное,
// жалоба переезжает к платежу последней записи, откат ничего не оставляет.
func FraudReportUpserts(t *testing.T, newStore NewStore) {
	userA, userB := uuid.New(), uuid.New()
	userC, userD := uuid.New(), uuid.New()

	cases := []struct {
		name    string
		upserts []upsert
		// want nil: жалобы нет ни у одного платежа.
		want *expectation
	}{
		{
			name: "first write",
			upserts: []upsert{
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusEscalated},
			},
			want: &expectation{status: models.FraudReportStatusEscalated, reportedUser: userA, reportedBy: userB},
		},
		{
			name: "empty action keeps recorded one",
			upserts: []upsert{
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusEscalated, action: action("release")},
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusResolved},
			},
			want: &expectation{status: models.FraudReportStatusResolved, action: action("release"), reportedUser: userA, reportedBy: userB},
		},
		{
			name: "new action replaces recorded one",
			upserts: []upsert{
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusUnderReview, action: action("release")},
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusResolved, action: action("refund")},
			},
			want: &expectation{status: models.FraudReportStatusResolved, action: action("refund"), reportedUser: userA, reportedBy: userB},
		},
		{
			name: "participants come from first write",
			upserts: []upsert{
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusEscalated},
				{reportedUser: userC, reportedBy: userD, status: models.FraudReportStatusDismissed},
			},
			want: &expectation{status: models.FraudReportStatusDismissed, reportedUser: userA, reportedBy: userB},
		},
		{
			name: "relinked to another payment",
			upserts: []upsert{
				{payment: 0, reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusEscalated, action: action("refund")},
				{payment: 1, reportedUser: userC, reportedBy: userD, status: models.FraudReportStatusUnderReview},
			},
			want: &expectation{payment: 1, status: models.FraudReportStatusUnderReview, action: action("refund"), reportedUser: userA, reportedBy: userB},
		},
		{
			name: "rolled back write leaves nothing",
			upserts: []upsert{
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusEscalated, rollback: true},
			},
		},
		{
			name: "rolled back update keeps previous",
			upserts: []upsert{
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusEscalated, action: action("release")},
				{reportedUser: userA, reportedBy: userB, status: models.FraudReportStatusResolved, action: action("refund"), rollback: true},
			},
			want: &expectation{status: models.FraudReportStatusEscalated, action: action("release"), reportedUser: userA, reportedBy: userB},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			payments := []*models.Payment{createPayment(t, store), createPayment(t, store)}
			reportID := uuid.New()

			for _, u := range tc.upserts {
				report := &models.FraudReport{
					ID:               reportID,
					ReportedUser:     u.reportedUser,
					ReportedBy:       u.reportedBy,
					Status:           u.status,
					ResolutionAction: u.action,
				}
				err := store.WithPaymentLock(ctx, payments[u.payment].ID, func(tx repository.LedgerTx) error {
					if err := tx.UpsertFraudReport(ctx, report); err != nil {
						return err
					}
					if u.rollback {
						return errRollback
					}
					return nil
				})
				if u.rollback {
					require.ErrorIs(t, err, errRollback)
					continue
				}
				require.NoError(t, err)

				// Запись возвращает итоговую строку, а не то, что передали.
				if tc.want != nil && u.payment == tc.want.payment {
					assert.Equal(t, u.status, report.Status)
					assert.Equal(t, tc.upserts[0].reportedUser, report.ReportedUser)
					assert.Equal(t, tc.upserts[0].reportedBy, report.ReportedBy)
				}
			}

			for i, p := range payments {
				reports, err := store.ListFraudReports(ctx, p.ID)
				require.NoError(t, err)

				if tc.want == nil || tc.want.payment != i {
					assert.Empty(t, reports, "payment %d", i)
					continue
				}
				require.Len(t, reports, 1, "payment %d", i)
				got := reports[0]
				assert.Equal(t, reportID, got.ID)
				assert.Equal(t, tc.want.status, got.Status)
				assert.Equal(t, tc.want.reportedUser, got.ReportedUser)
				assert.Equal(t, tc.want.reportedBy, got.ReportedBy)
				require.NotNil(t, got.RelatedPayment)
				assert.Equal(t, p.ID, *got.RelatedPayment)
				if tc.want.action == nil {
					assert.Nil(t, got.ResolutionAction)
				} else if assert.NotNil(t, got.ResolutionAction) {
					assert.Equal(t, *tc.want.action, *got.ResolutionAction)
				}
			}
		})
	}
}

func createPayment(t *testing.T, store repository.LedgerStore) *models.Payment {
	t.Helper()
	p := &models.Payment{
		JobID:        uuid.New(),
		ClientID:     uuid.New(),
		FreelancerID: uuid.New(),
		Amount:       decimal.RequireFromString("100"),
		Currency:     "USD",
		Status:       valueobject.PaymentStatusPending,
	}
	intent := &models.Transaction{
		Type:   models.TransactionTypePayment,
		Amount: p.Amount,
		Status: models.TransactionStatusPending,
	}
	require.NoError(t, store.CreatePayment(context.Background(), p, intent))
	return p
}
