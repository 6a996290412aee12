package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-ledger/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

// HookHandler принимает уведомления платёжного шлюза и сервиса модерации.
type HookHandler struct {
	escrow *service.EscrowService
	gate   *service.DisputeGate
}

func NewHookHandler(escrow *service.EscrowService, gate *service.DisputeGate) *HookHandler {
	return &HookHandler{escrow: escrow, gate: gate}
}

type gatewayEventRequest struct {
	ExternalTransactionID string    `json:"external_transaction_id" binding:"required"`
	PaymentID             uuid.UUID `json:"payment_id" binding:"required"`
	Outcome               string    `json:"outcome" binding:"required,oneof=succeeded failed"`
	FailureReason         string    `json:"failure_reason"`
}

// Gateway POST /webhooks/gateway
// Повторная доставка подтверждается 200 с replayed=true, чтобы шлюз перестал ретраить.
func (h *HookHandler) Gateway(c *gin.Context) {
	var req gatewayEventRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.escrow.RecordGatewayEvent(c.Request.Context(), service.GatewayEvent{
		ExternalTransactionID: req.ExternalTransactionID,
		PaymentID:             req.PaymentID,
		Outcome:               req.Outcome,
		FailureReason:         req.FailureReason,
	})
	if apperror.IsDuplicate(err) {
		body := gin.H{"replayed": true, "payment_id": req.PaymentID}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			body["status"] = appErr.Details["status"]
		}
		c.JSON(http.StatusOK, body)
		return
	}
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"replayed": false, "payment_id": payment.ID, "status": payment.Status})
}

type disputeNoticeRequest struct {
	ReportID         uuid.UUID `json:"report_id" binding:"required"`
	PaymentID        uuid.UUID `json:"payment_id" binding:"required"`
	ReportedUser     uuid.UUID `json:"reported_user"`
	ReportedBy       uuid.UUID `json:"reported_by"`
	Status           string    `json:"status" binding:"required"`
	ResolutionAction string    `json:"resolution_action"`
}

// Dispute POST /hooks/disputes
func (h *HookHandler) Dispute(c *gin.Context) {
	var req disputeNoticeRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.gate.OnDisputeStatusChanged(c.Request.Context(), req.PaymentID, service.DisputeNotice{
		ReportID:         req.ReportID,
		ReportedUser:     req.ReportedUser,
		ReportedBy:       req.ReportedBy,
		Status:           req.Status,
		ResolutionAction: req.ResolutionAction,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment_id": payment.ID, "status": payment.Status, "integrity_hold": payment.IntegrityHold})
}
