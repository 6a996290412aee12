package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-ledger/internal/http/middleware"
)

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	return r
}

func TestPaymentHandler_Fund_Unauthorized(t *testing.T) {
	r := newTestEngine()
	handler := &PaymentHandler{}
	r.POST("/payments", handler.Fund)

	req, _ := http.NewRequest("POST", "/payments", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentHandler_My_Unauthorized(t *testing.T) {
	r := newTestEngine()
	handler := &PaymentHandler{}
	r.GET("/payments/my", handler.My)

	req, _ := http.NewRequest("GET", "/payments/my", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentHandler_Release_InvalidID(t *testing.T) {
	r := newTestEngine()
	handler := &PaymentHandler{}
	r.POST("/payments/:id/release", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		c.Set(middleware.ContextRoleKey, "client")
	}, handler.Release)

	req, _ := http.NewRequest("POST", "/payments/invalid-uuid/release", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestPaymentHandler_Fund_InvalidBody(t *testing.T) {
	r := newTestEngine()
	handler := &PaymentHandler{}
	r.POST("/payments", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
	}, handler.Fund)

	req, _ := http.NewRequest("POST", "/payments", strings.NewReader(`{"job_id":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHookHandler_Gateway_InvalidOutcome(t *testing.T) {
	r := newTestEngine()
	handler := &HookHandler{}
	r.POST("/webhooks/gateway", handler.Gateway)

	body := `{"external_transaction_id":"gw-1","payment_id":"` + uuid.NewString() + `","outcome":"maybe"}`
	req, _ := http.NewRequest("POST", "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_Resolution_UnknownAction(t *testing.T) {
	r := newTestEngine()
	handler := &AdminHandler{}
	r.POST("/admin/payments/:id/resolution", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		c.Set(middleware.ContextRoleKey, "admin")
	}, handler.ApplyResolution)

	req, _ := http.NewRequest("POST", "/admin/payments/"+uuid.NewString()+"/resolution", strings.NewReader(`{"action":"chargeback"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
