package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/domain/ledger"
	"github.com/ignatzorin/escrow-ledger/internal/domain/repository"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// DisputeNotice изменение жалобы во внешнем процессе модерации.
type DisputeNotice struct {
	ReportID         uuid.UUID
	ReportedUser     uuid.UUID
	ReportedBy       uuid.UUID
	Status           string
	ResolutionAction string
}

// DisputeGate связывает жалобы с платежами: блокирует переходы, замораживает
// платёж при эскалации и применяет решение по спору.
type DisputeGate struct {
	store  repository.LedgerStore
	runner *transitionRunner
	cfg    EscrowConfig
	now    func() time.Time
}

func NewDisputeGate(deps Dependencies, cfg EscrowConfig) *DisputeGate {
	return &DisputeGate{
		store:  deps.Store,
		runner: newTransitionRunner(deps.Store, deps.Cache, deps.Publisher, deps.Monitor, deps.Metrics),
		cfg:    cfg,
		now:    time.Now,
	}
}

// HasActiveHold true, если хотя бы одна жалоба на платёж в статусе under_review или escalated.
func (g *DisputeGate) HasActiveHold(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	if _, err := g.store.GetPayment(ctx, paymentID); err != nil {
		return false, err
	}
	reports, err := g.store.ListFraudReports(ctx, paymentID)
	if err != nil {
		return false, err
	}
	return hasActiveHold(reports), nil
}

// OnDisputeStatusChanged обновляет проекцию жалобы под блокировкой платежа.
// Эскалация замораживает pending/escrowed платёж. Закрытие последней активной
// жалобы применяет записанное решение (dismissed означает no_action).
func (g *DisputeGate) OnDisputeStatusChanged(ctx context.Context, paymentID uuid.UUID, notice DisputeNotice) (*models.Payment, error) {
	if notice.ReportID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "report_id обязателен")
	}
	if _, ok := models.ValidFraudReportStatuses[notice.Status]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный статус жалобы").
			WithDetail("status", notice.Status)
	}
	var action *string
	if notice.ResolutionAction != "" {
		a, err := valueobject.NewResolutionAction(notice.ResolutionAction)
		if err != nil {
			return nil, err
		}
		s := string(a)
		action = &s
	}

	return g.runner.run(ctx, "dispute_notice", paymentID, func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
		report := &models.FraudReport{
			ID:               notice.ReportID,
			ReportedUser:     notice.ReportedUser,
			ReportedBy:       notice.ReportedBy,
			Status:           notice.Status,
			ResolutionAction: action,
		}
		if err := tx.UpsertFraudReport(ctx, report); err != nil {
			return nil, err
		}

		// Замороженный оператором платёж не трогаем: жалоба записана, переход
		// случится после снятия заморозки.
		if p.IntegrityHold {
			return nil, nil
		}
		if err := ledger.Verify(p, txs); err != nil {
			return &stepResult{deferred: err}, nil
		}

		switch {
		case notice.Status == models.FraudReportStatusEscalated &&
			(p.Status == valueobject.PaymentStatusPending || p.Status == valueobject.PaymentStatusEscrowed):
			if err := tx.Append(ctx, disputeMarker(p.ID, g.now())); err != nil {
				return nil, mapStoreError(err)
			}

		case p.Status == valueobject.PaymentStatusDisputed && report.IsClosed():
			return g.autoResolve(ctx, tx, p, txs)
		}
		return nil, nil
	})
}

// autoResolve применяет решение, когда активных жалоб не осталось. Неоднозначность
// не откатывает запись жалобы, а уходит оператору.
func (g *DisputeGate) autoResolve(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
	reports, err := tx.FraudReports(ctx)
	if err != nil {
		return nil, err
	}
	if hasActiveHold(reports) {
		return nil, nil
	}

	action, err := chooseResolution(p, reports, "")
	if err != nil {
		if apperror.IsIntegrity(err) {
			return &stepResult{deferred: err}, nil
		}
		// Решение ещё не записано: ждём администратора.
		return nil, nil
	}

	if action != valueobject.ResolutionNoAction && ledger.BaseStatus(txs) != valueobject.PaymentStatusEscrowed {
		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"payment_id": p.ID,
				"action":     action,
			}).Warn("dispute resolution postponed: funds are not held yet")
		}
		return nil, nil
	}

	if err := g.settleDispute(ctx, tx, p, txs, action); err != nil {
		return nil, err
	}
	return nil, nil
}

// ApplyResolution применяет решение по спору к замороженному платежу.
// Пустой action берётся из закрытых жалоб.
func (g *DisputeGate) ApplyResolution(ctx context.Context, paymentID uuid.UUID, action valueobject.ResolutionAction, actor models.Actor) (*models.Payment, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if action != "" && !action.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестное решение по спору").
			WithDetail("action", string(action))
	}

	return g.runner.run(ctx, "apply_resolution", paymentID, func(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction) (*stepResult, error) {
		if p.IntegrityHold {
			return nil, conflict(apperror.ErrIntegrityHold, p)
		}
		if p.Status != valueobject.PaymentStatusDisputed {
			return nil, conflict(apperror.ErrNoActiveDispute, p)
		}
		if err := ledger.Verify(p, txs); err != nil {
			return nil, err
		}

		reports, err := tx.FraudReports(ctx)
		if err != nil {
			return nil, err
		}
		chosen, err := chooseResolution(p, reports, action)
		if err != nil {
			return nil, err
		}

		if chosen != valueobject.ResolutionNoAction && ledger.BaseStatus(txs) != valueobject.PaymentStatusEscrowed {
			return nil, conflict(apperror.ErrInvalidTransition, p).WithDetail("reason", "funds are not held")
		}

		if err := g.settleDispute(ctx, tx, p, txs, chosen); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// settleDispute завершает маркер спора. release: выплата фрилансеру маркером и
// отдельная транзакция комиссии; refund: возврат клиенту; no_action: нулевая
// сумма, платёж возвращается в прежний статус.
func (g *DisputeGate) settleDispute(ctx context.Context, tx repository.LedgerTx, p *models.Payment, txs []models.Transaction, action valueobject.ResolutionAction) error {
	marker := ledger.OpenDisputeMarker(txs)
	if marker == nil {
		return apperror.ErrStatusMismatch.
			WithDetail("payment_id", p.ID.String()).
			WithDetail("reason", "disputed payment has no open dispute marker")
	}

	now := g.now()
	actionStr := string(action)
	settlement := models.Settlement{
		Status:           models.TransactionStatusCompleted,
		ResolutionAction: &actionStr,
		ProcessedAt:      now,
	}

	fee := decimal.Zero
	switch action {
	case valueobject.ResolutionRelease:
		payout, f := g.cfg.FeeRate.SplitFee(p.Amount)
		amount := payout.Neg()
		settlement.Amount = &amount
		settlement.ToUserID = &p.FreelancerID
		fee = f
	case valueobject.ResolutionRefund:
		amount := p.Amount.Neg()
		settlement.Amount = &amount
		settlement.ToUserID = &p.ClientID
	}

	if err := tx.Settle(ctx, marker.ID, settlement); err != nil {
		return mapStoreError(err)
	}
	if action == valueobject.ResolutionRelease {
		return appendFee(ctx, tx, p, g.cfg.PlatformAccountID, fee, now)
	}
	return nil
}

// chooseResolution выбирает решение по жалобам платежа.
// Конфликт рекомендаций среди незакрытых жалоб или среди закрытых при пустом
// requested даёт AmbiguousResolution: приоритетов нет, решает человек.
func chooseResolution(p *models.Payment, reports []models.FraudReport, requested valueobject.ResolutionAction) (valueobject.ResolutionAction, error) {
	open := make(map[string]struct{})
	closed := make(map[string]struct{})
	anyClosed, anyDismissed := false, false

	for i := range reports {
		r := &reports[i]
		switch {
		case r.Status == models.FraudReportStatusDismissed:
			anyClosed, anyDismissed = true, true
		case r.IsClosed():
			anyClosed = true
			if r.ResolutionAction != nil {
				closed[*r.ResolutionAction] = struct{}{}
			}
		case r.ResolutionAction != nil:
			open[*r.ResolutionAction] = struct{}{}
		}
	}
	// Отклонённая жалоба ничего не рекомендует: no_action только если решений нет вовсе.
	if anyDismissed && len(closed) == 0 {
		closed[string(valueobject.ResolutionNoAction)] = struct{}{}
	}

	if len(open) > 1 {
		return "", ambiguous(p, open)
	}
	if hasActiveHold(reports) || !anyClosed {
		return "", conflict(apperror.ErrDisputeHoldActive, p)
	}
	if requested != "" {
		return requested, nil
	}

	switch len(closed) {
	case 0:
		return "", apperror.New(apperror.ErrCodeValidation, "решение по спору не указано").
			WithDetail("payment_id", p.ID.String())
	case 1:
		for a := range closed {
			return valueobject.ResolutionAction(a), nil
		}
	}
	return "", ambiguous(p, closed)
}

func ambiguous(p *models.Payment, actions map[string]struct{}) error {
	list := make([]string, 0, len(actions))
	for a := range actions {
		list = append(list, a)
	}
	sort.Strings(list)
	return apperror.ErrAmbiguousResolution.
		WithDetail("payment_id", p.ID.String()).
		WithDetail("status", p.Status.String()).
		WithDetail("actions", list)
}
