package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

// AdminHandler операторские действия: решения по спорам, сверка, снятие заморозки.
type AdminHandler struct {
	escrow  *service.EscrowService
	gate    *service.DisputeGate
	ledger  *service.LedgerService
	sweeper *service.ReconciliationSweeper
}

func NewAdminHandler(escrow *service.EscrowService, gate *service.DisputeGate, ledger *service.LedgerService, sweeper *service.ReconciliationSweeper) *AdminHandler {
	return &AdminHandler{escrow: escrow, gate: gate, ledger: ledger, sweeper: sweeper}
}

type resolutionRequest struct {
	// Пустое действие берётся из закрытых жалоб.
	Action string `json:"action" binding:"omitempty,oneof=release refund no_action"`
}

// ApplyResolution POST /admin/payments/:id/resolution
func (h *AdminHandler) ApplyResolution(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req resolutionRequest
	if c.Request.ContentLength != 0 {
		if err := common.BindJSON(c, &req); err != nil {
			common.Fail(c, err)
			return
		}
	}

	payment, err := h.gate.ApplyResolution(c.Request.Context(), paymentID, valueobject.ResolutionAction(req.Action), actor)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Reconcile POST /admin/payments/:id/reconcile
// Нарушение целостности здесь это результат проверки, а не ошибка запроса.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	err = h.ledger.Reconcile(c.Request.Context(), paymentID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"payment_id": paymentID, "consistent": true})
		return
	}
	if !apperror.IsIntegrity(err) {
		common.Fail(c, err)
		return
	}

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	c.JSON(http.StatusOK, gin.H{
		"payment_id": paymentID,
		"consistent": false,
		"code":       appErr.Code,
		"details":    appErr.Details,
	})
}

// ClearIntegrityHold DELETE /admin/payments/:id/integrity-hold
func (h *AdminHandler) ClearIntegrityHold(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.escrow.ClearIntegrityHold(c.Request.Context(), paymentID, actor)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Holds GET /admin/payments/:id/holds
func (h *AdminHandler) Holds(c *gin.Context) {
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	ctx := c.Request.Context()
	reports, err := h.ledger.Holds(ctx, paymentID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	active, err := h.gate.HasActiveHold(ctx, paymentID)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment_id": paymentID, "active_hold": active, "reports": reports})
}

// Sweep POST /admin/reconcile/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
