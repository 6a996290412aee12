package events

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/logger"
)

// Multi раздаёт событие всем приёмникам. Ошибка одного приёмника не мешает остальным.
type Multi struct {
	publishers []Publisher
}

func NewMulti(publishers ...Publisher) *Multi {
	var ps []Publisher
	for _, p := range publishers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Multi{publishers: ps}
}

func (m *Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			if logger.Log != nil {
				logger.Log.WithFields(logrus.Fields{
					"event":      event.Type,
					"payment_id": event.PaymentID,
					"error":      err.Error(),
				}).Warn("event publish failed")
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop приёмник, который ничего не делает.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
