package valueobject

import "github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusEscrowed PaymentStatus = "escrowed"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusDisputed PaymentStatus = "disputed"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// paymentTransitions таблица допустимых переходов escrow.
// Из disputed можно вернуться в любое нетерминальное состояние, из которого
// платёж был заморожен, либо перейти в терминальное по решению спора.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusEscrowed, PaymentStatusFailed, PaymentStatusDisputed},
	PaymentStatusEscrowed: {PaymentStatusReleased, PaymentStatusRefunded, PaymentStatusDisputed},
	PaymentStatusDisputed: {PaymentStatusReleased, PaymentStatusRefunded, PaymentStatusPending, PaymentStatusEscrowed, PaymentStatusFailed},
	PaymentStatusReleased: {},
	PaymentStatusRefunded: {},
	PaymentStatusFailed:   {},
}

func (s PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// IsTerminal true для статусов, которые уже никогда не меняются.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusReleased, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(newStatus PaymentStatus) bool {
	allowed, ok := paymentTransitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

func NewPaymentStatus(status string) (PaymentStatus, error) {
	s := PaymentStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус платежа")
	}
	return s, nil
}

type ResolutionAction string

const (
	ResolutionRelease  ResolutionAction = "release"
	ResolutionRefund   ResolutionAction = "refund"
	ResolutionNoAction ResolutionAction = "no_action"
)

func (a ResolutionAction) IsValid() bool {
	switch a {
	case ResolutionRelease, ResolutionRefund, ResolutionNoAction:
		return true
	}
	return false
}

func NewResolutionAction(action string) (ResolutionAction, error) {
	a := ResolutionAction(action)
	if !a.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректное решение по спору")
	}
	return a, nil
}
