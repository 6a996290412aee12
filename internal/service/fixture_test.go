package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/events"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/repository/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *memory.LedgerStore
	cache     *CacheService
	escrow    *EscrowService
	gate      *DisputeGate
	ledger    *LedgerService
	sweeper   *ReconciliationSweeper
	published *recordingPublisher
	metrics   *metrics.LedgerMetrics
	platform  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewLedgerStore()
	cache := NewCacheService(ctx, time.Minute)
	published := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	monitor := NewIntegrityMonitor(store, published, m)

	rate, err := valueobject.NewFeeRate(decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	cfg := EscrowConfig{FeeRate: rate, PlatformAccountID: uuid.New(), Currency: "USD"}
	deps := Dependencies{Store: store, Cache: cache, Publisher: published, Monitor: monitor, Metrics: m}

	ledgerSvc := NewLedgerService(store, cache)
	return &fixture{
		store:     store,
		cache:     cache,
		escrow:    NewEscrowService(deps, cfg),
		gate:      NewDisputeGate(deps, cfg),
		ledger:    ledgerSvc,
		sweeper:   NewReconciliationSweeper(store, ledgerSvc, monitor, m, time.Minute, 2),
		published: published,
		metrics:   m,
		platform:  cfg.PlatformAccountID,
	}
}

func (f *fixture) fund(t *testing.T, amount string) *models.Payment {
	t.Helper()
	p, err := f.escrow.FundJob(context.Background(), FundRequest{
		JobID:        uuid.New(),
		ClientID:     uuid.New(),
		FreelancerID: uuid.New(),
		Amount:       decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return p
}

// escrowed создаёт платёж и подтверждает его событием шлюза.
func (f *fixture) escrowed(t *testing.T, amount string) *models.Payment {
	t.Helper()
	p := f.fund(t, amount)
	got, err := f.escrow.RecordGatewayEvent(context.Background(), GatewayEvent{
		ExternalTransactionID: "gw-" + p.ID.String(),
		PaymentID:             p.ID,
		Outcome:               GatewayOutcomeSucceeded,
	})
	require.NoError(t, err)
	require.Equal(t, valueobject.PaymentStatusEscrowed, got.Status)
	return got
}

func (f *fixture) report(t *testing.T, p *models.Payment, reportID uuid.UUID, status, action string) (*models.Payment, error) {
	t.Helper()
	return f.gate.OnDisputeStatusChanged(context.Background(), p.ID, DisputeNotice{
		ReportID:         reportID,
		ReportedUser:     p.FreelancerID,
		ReportedBy:       p.ClientID,
		Status:           status,
		ResolutionAction: action,
	})
}

func (f *fixture) txsOfType(t *testing.T, paymentID uuid.UUID, txType string) []models.Transaction {
	t.Helper()
	txs, err := f.store.ListByPayment(context.Background(), paymentID)
	require.NoError(t, err)
	var out []models.Transaction
	for _, tx := range txs {
		if tx.Type == txType {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fixture) requireConsistent(t *testing.T, paymentID uuid.UUID) {
	t.Helper()
	require.NoError(t, f.ledger.Reconcile(context.Background(), paymentID))

	p, err := f.store.GetPayment(context.Background(), paymentID)
	require.NoError(t, err)
	status, err := f.ledger.CurrentStatus(context.Background(), paymentID)
	require.NoError(t, err)
	require.Equal(t, p.Status, status)
}

var (
	admin = models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
)

func clientOf(p *models.Payment) models.Actor {
	return models.Actor{UserID: p.ClientID, Role: models.RoleClient}
}

func freelancerOf(p *models.Payment) models.Actor {
	return models.Actor{UserID: p.FreelancerID, Role: models.RoleFreelancer}
}
