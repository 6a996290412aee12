package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

type PaymentHandler struct {
	escrow *service.EscrowService
	ledger *service.LedgerService
}

func NewPaymentHandler(escrow *service.EscrowService, ledger *service.LedgerService) *PaymentHandler {
	return &PaymentHandler{escrow: escrow, ledger: ledger}
}

// PaymentView платёж с балансом и статусом, выведенным из журнала.
type PaymentView struct {
	*models.Payment
	Balance       decimal.Decimal           `json:"balance"`
	DerivedStatus valueobject.PaymentStatus `json:"derived_status"`
}

type fundRequest struct {
	JobID        uuid.UUID       `json:"job_id" binding:"required"`
	FreelancerID uuid.UUID       `json:"freelancer_id" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// Fund POST /payments
func (h *PaymentHandler) Fund(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req fundRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.escrow.FundJob(c.Request.Context(), service.FundRequest{
		JobID:        req.JobID,
		ClientID:     actor.UserID,
		FreelancerID: req.FreelancerID,
		Amount:       req.Amount,
		Currency:     req.Currency,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// My GET /payments/my
func (h *PaymentHandler) My(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	payments, err := h.ledger.ListForUser(c.Request.Context(), actor.UserID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments, "limit": limit, "offset": offset})
}

// Get GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, ok := h.authorizedPayment(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	balance, err := h.ledger.Balance(ctx, payment.ID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	status, err := h.ledger.CurrentStatus(ctx, payment.ID)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentView{Payment: payment, Balance: balance, DerivedStatus: status})
}

// Transactions GET /payments/:id/transactions
func (h *PaymentHandler) Transactions(c *gin.Context) {
	payment, ok := h.authorizedPayment(c)
	if !ok {
		return
	}

	txs, err := h.ledger.History(c.Request.Context(), payment.ID)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Release POST /payments/:id/release
func (h *PaymentHandler) Release(c *gin.Context) {
	h.transition(c, h.escrow.RequestRelease)
}

// Refund POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	h.transition(c, h.escrow.RequestRefund)
}

func (h *PaymentHandler) transition(c *gin.Context, op func(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.Payment, error)) {
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

	payment, err := op(c.Request.Context(), paymentID, actor)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// authorizedPayment загружает платёж и проверяет, что пользователь его участник или администратор.
func (h *PaymentHandler) authorizedPayment(c *gin.Context) (*models.Payment, bool) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return nil, false
	}
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return nil, false
	}

	payment, err := h.ledger.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		common.Fail(c, err)
		return nil, false
	}
	if !actor.IsAdmin() && !payment.IsParticipant(actor.UserID) {
		// Чужой платёж неотличим от несуществующего.
		common.Fail(c, apperror.ErrUnknownPayment)
		return nil, false
	}
	return payment, true
}
