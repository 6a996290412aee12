// Package events публикует доменные события леджера для внешних подписчиков
// (уведомления, email, операторская очередь). Доставка best effort:
// ошибка публикации не откатывает уже зафиксированный переход.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы событий
const (
	TypePaymentCreated     = "payment.created"
	TypePaymentEscrowed    = "payment.escrowed"
	TypePaymentFailed      = "payment.failed"
	TypePaymentReleased    = "payment.released"
	TypePaymentRefunded    = "payment.refunded"
	TypePaymentDisputed    = "payment.disputed"
	TypeDisputeResolved    = "payment.dispute_resolved"
	TypeIntegrityViolation = "ledger.integrity_violation"
	TypeIntegrityCleared   = "ledger.integrity_cleared"
)

// Event доменное событие по платежу.
type Event struct {
	ID           uuid.UUID      `json:"id"`
	Type         string         `json:"type"`
	PaymentID    uuid.UUID      `json:"payment_id"`
	ClientID     uuid.UUID      `json:"client_id"`
	FreelancerID uuid.UUID      `json:"freelancer_id"`
	Status       string         `json:"status"`
	Amount       string         `json:"amount,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// New заполняет идентификатор и время события.
func New(eventType string, paymentID uuid.UUID) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		PaymentID:  paymentID,
		OccurredAt: time.Now().UTC(),
	}
}

// Recipients участники платежа, которым событие адресовано.
func (e Event) Recipients() []uuid.UUID {
	var out []uuid.UUID
	for _, id := range []uuid.UUID{e.ClientID, e.FreelancerID} {
		if id != uuid.Nil {
			out = append(out, id)
		}
	}
	return out
}

// Marshal сериализует событие для брокеров.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher приёмник доменных событий.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc адаптер функции к Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
