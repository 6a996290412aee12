package ws

import (
	"context"

	"github.com/ignatzorin/escrow-ledger/internal/events"
)

// EventPublisher доставляет доменные события участникам платежа в реальном времени.
type EventPublisher struct {
	hub *Hub
}

func NewEventPublisher(hub *Hub) *EventPublisher {
	return &EventPublisher{hub: hub}
}

func (p *EventPublisher) Publish(_ context.Context, event events.Event) error {
	// Операторские события не уходят пользователям
	if event.Type == events.TypeIntegrityViolation || event.Type == events.TypeIntegrityCleared {
		return nil
	}

	for _, userID := range event.Recipients() {
		if err := p.hub.BroadcastToUser(userID, event.Type, event); err != nil {
			return err
		}
	}
	return nil
}
