package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"

	// Ошибки леджера.
	ErrCodeUnknownPayment      ErrorCode = "UNKNOWN_PAYMENT"
	ErrCodeDuplicateExternalID ErrorCode = "DUPLICATE_EXTERNAL_ID"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeDisputeHoldActive   ErrorCode = "DISPUTE_HOLD_ACTIVE"
	ErrCodeIntegrityHold       ErrorCode = "INTEGRITY_HOLD"
	ErrCodeNoActiveDispute     ErrorCode = "NO_ACTIVE_DISPUTE"
	ErrCodeImbalancedLedger    ErrorCode = "IMBALANCED_LEDGER"
	ErrCodeStatusMismatch      ErrorCode = "STATUS_MISMATCH"
	ErrCodeAmbiguousResolution ErrorCode = "AMBIGUOUS_RESOLUTION"
)

// AppError типизированная ошибка приложения. Details несёт контекст для
// вызывающего (например, текущий статус платежа при конфликте).
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Details    map[string]any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с копиями sentinel-ошибок.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail возвращает копию ошибки с дополнительным полем в Details.
func (e *AppError) WithDetail(key string, value any) *AppError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeUnknownPayment:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeInvalidTransition, ErrCodeDisputeHoldActive, ErrCodeIntegrityHold,
		ErrCodeNoActiveDispute, ErrCodeAmbiguousResolution:
		return http.StatusConflict
	case ErrCodeDuplicateExternalID:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку, если это не AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeNotFound || code == ErrCodeUnknownPayment
}

func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsConflict true для отказов переходов: состояние не позволяет операцию сейчас.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidTransition, ErrCodeDisputeHoldActive, ErrCodeIntegrityHold, ErrCodeNoActiveDispute:
		return true
	}
	return false
}

// IsIntegrity true для ошибок целостности данных, требующих вмешательства оператора.
func IsIntegrity(err error) bool {
	switch CodeOf(err) {
	case ErrCodeImbalancedLedger, ErrCodeStatusMismatch, ErrCodeAmbiguousResolution:
		return true
	}
	return false
}

// IsDuplicate true для повторной доставки события шлюза.
func IsDuplicate(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateExternalID
}

var (
	ErrUnauthorized = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden    = New(ErrCodeForbidden, "недостаточно прав")

	ErrUnknownPayment      = New(ErrCodeUnknownPayment, "платёж не найден")
	ErrDuplicateExternalID = New(ErrCodeDuplicateExternalID, "транзакция с таким external id уже записана")
	ErrInvalidTransition   = New(ErrCodeInvalidTransition, "переход недопустим из текущего статуса")
	ErrDisputeHoldActive   = New(ErrCodeDisputeHoldActive, "по платежу открыт спор, операция заблокирована")
	ErrIntegrityHold       = New(ErrCodeIntegrityHold, "платёж заморожен до проверки оператором")
	ErrNoActiveDispute     = New(ErrCodeNoActiveDispute, "платёж не находится в споре")
	ErrImbalancedLedger    = New(ErrCodeImbalancedLedger, "баланс леджера не сходится")
	ErrStatusMismatch      = New(ErrCodeStatusMismatch, "кэшированный статус расходится с леджером")
	ErrAmbiguousResolution = New(ErrCodeAmbiguousResolution, "жалобы содержат противоречивые решения")
)
