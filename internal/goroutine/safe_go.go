package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/logger"
)

// RecoveryHandler обрабатывает panic в фоновых горутинах
type RecoveryHandler struct {
	log func() *logrus.Logger
}

// NewRecoveryHandler создает обработчик. log вызывается в момент паники,
// поэтому логгер может быть инициализирован позже.
func NewRecoveryHandler(log func() *logrus.Logger) *RecoveryHandler {
	return &RecoveryHandler{log: log}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(name string, fn func()) {
	go func() {
		defer rh.recover(name)
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		defer rh.recover(name)
		fn(ctx)
	}()
}

func (rh *RecoveryHandler) recover(name string) {
	r := recover()
	if r == nil {
		return
	}
	log := rh.log()
	if log == nil {
		return
	}
	log.WithFields(logrus.Fields{
		"goroutine": name,
		"panic":     r,
		"stack":     string(debug.Stack()),
	}).Error("panic in background goroutine")
}

// DefaultRecoveryHandler пишет в общий логгер приложения
var DefaultRecoveryHandler = NewRecoveryHandler(func() *logrus.Logger { return logger.Log })

// SafeGo запускает безопасную горутину с общим логгером
func SafeGo(name string, fn func()) {
	DefaultRecoveryHandler.SafeGo(name, fn)
}

// SafeGoWithContext запускает безопасную горутину с контекстом и общим логгером
func SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, name, fn)
}
