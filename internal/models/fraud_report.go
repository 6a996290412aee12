package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	FraudReportStatusPending     = "pending"
	FraudReportStatusUnderReview = "under_review"
	FraudReportStatusResolved    = "resolved"
	FraudReportStatusDismissed   = "dismissed"
	FraudReportStatusEscalated   = "escalated"
)

// ValidFraudReportStatuses список валидных статусов жалоб
var ValidFraudReportStatuses = map[string]struct{}{
	FraudReportStatusPending:     {},
	FraudReportStatusUnderReview: {},
	FraudReportStatusResolved:    {},
	FraudReportStatusDismissed:   {},
	FraudReportStatusEscalated:   {},
}

// FraudReport проекция жалобы из внешнего процесса модерации.
// RelatedPayment слабая ссылка: только идентификатор, без владения.
type FraudReport struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	ReportedUser     uuid.UUID  `db:"reported_user" json:"reported_user"`
	ReportedBy       uuid.UUID  `db:"reported_by" json:"reported_by"`
	RelatedPayment   *uuid.UUID `db:"related_payment" json:"related_payment,omitempty"`
	Status           string     `db:"status" json:"status"`
	ResolutionAction *string    `db:"resolution_action" json:"resolution_action,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// IsHold true, пока жалоба блокирует переходы платежа.
func (r *FraudReport) IsHold() bool {
	return r.Status == FraudReportStatusUnderReview || r.Status == FraudReportStatusEscalated
}

// IsClosed true для терминальных статусов модерации.
func (r *FraudReport) IsClosed() bool {
	return r.Status == FraudReportStatusResolved || r.Status == FraudReportStatusDismissed
}
