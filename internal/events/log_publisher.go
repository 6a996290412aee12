package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/logger"
)

// LogPublisher пишет события в лог. Используется при EVENTS_DRIVER=log.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	if logger.Log == nil {
		return nil
	}

	entry := logger.Log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event":      event.Type,
		"payment_id": event.PaymentID,
		"status":     event.Status,
	})
	if event.Type == TypeIntegrityViolation {
		entry.WithField("details", event.Details).Error("domain event")
		return nil
	}
	entry.Info("domain event")
	return nil
}
