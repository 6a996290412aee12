package router

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-ledger/internal/config"
	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-ledger/internal/http/handlers"
	"github.com/ignatzorin/escrow-ledger/internal/http/middleware"
	"github.com/ignatzorin/escrow-ledger/internal/metrics"
	"github.com/ignatzorin/escrow-ledger/internal/models"
	"github.com/ignatzorin/escrow-ledger/internal/repository/memory"
	"github.com/ignatzorin/escrow-ledger/internal/service"
)

const (
	testJWTSecret     = "router-test-secret-router-test-secret"
	testGatewaySecret = "gateway-secret"
	testHookToken     = "moderation-token"
)

type apiFixture struct {
	engine *gin.Engine
	tokens *service.TokenManager
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Env:                  "test",
		AllowedOrigins:       []string{"http://localhost:3000"},
		RateLimitLimit:       1000,
		RateLimitPeriod:      time.Minute,
		GatewayWebhookSecret: testGatewaySecret,
		DisputeHookToken:     testHookToken,
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := memory.NewLedgerStore()
	cache := service.NewCacheService(ctx, time.Minute)
	monitor := service.NewIntegrityMonitor(store, nil, m)
	rate, err := valueobject.NewFeeRate(decimal.RequireFromString("0.05"))
	require.NoError(t, err)

	escrowCfg := service.EscrowConfig{FeeRate: rate, PlatformAccountID: uuid.New(), Currency: "USD"}
	deps := service.Dependencies{Store: store, Cache: cache, Monitor: monitor, Metrics: m}
	escrow := service.NewEscrowService(deps, escrowCfg)
	gate := service.NewDisputeGate(deps, escrowCfg)
	ledgerSvc := service.NewLedgerService(store, cache)
	sweeper := service.NewReconciliationSweeper(store, ledgerSvc, monitor, m, time.Minute, 50)
	tokens := service.NewTokenManager(testJWTSecret)

	engine := SetupRouter(cfg, tokens, m, reg,
		handlers.NewHealthHandler(nil, nil),
		handlers.NewPaymentHandler(escrow, ledgerSvc),
		handlers.NewHookHandler(escrow, gate),
		handlers.NewAdminHandler(escrow, gate, ledgerSvc, sweeper),
		nil,
	)
	return &apiFixture{engine: engine, tokens: tokens}
}

func (a *apiFixture) do(t *testing.T, method, path string, userID uuid.UUID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		token, err := a.tokens.IssueAccess(userID, role, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *apiFixture) gateway(t *testing.T, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gateway", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.GatewaySignatureHeader, hex.EncodeToString(middleware.Sign([]byte(testGatewaySecret), raw)))
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *apiFixture) dispute(t *testing.T, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/disputes", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HookTokenHeader, testHookToken)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAPI_FundEscrowRelease(t *testing.T) {
	api := newAPI(t)
	client, freelancer := uuid.New(), uuid.New()

	w := api.do(t, http.MethodPost, "/api/payments", client, models.RoleClient, map[string]any{
		"job_id":        uuid.NewString(),
		"freelancer_id": freelancer.String(),
		"amount":        "500.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	paymentID := created["id"].(string)
	assert.Equal(t, "pending", created["status"])

	w = api.gateway(t, map[string]any{
		"external_transaction_id": "gw-100",
		"payment_id":              paymentID,
		"outcome":                 "succeeded",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "escrowed", decode(t, w)["status"])

	// Повтор с другим исходом подтверждается, но ничего не меняет.
	w = api.gateway(t, map[string]any{
		"external_transaction_id": "gw-100",
		"payment_id":              paymentID,
		"outcome":                 "failed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	replay := decode(t, w)
	assert.Equal(t, true, replay["replayed"])
	assert.Equal(t, "escrowed", replay["status"])

	w = api.do(t, http.MethodPost, "/api/payments/"+paymentID+"/release", freelancer, models.RoleFreelancer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "released", decode(t, w)["status"])

	w = api.do(t, http.MethodGet, "/api/payments/"+paymentID, client, models.RoleClient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)
	assert.Equal(t, "released", view["derived_status"])
	assert.Equal(t, "0", view["balance"])

	w = api.do(t, http.MethodGet, "/api/payments/"+paymentID+"/transactions", client, models.RoleClient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode(t, w)["transactions"].([]any)
	assert.Len(t, txs, 3)

	w = api.do(t, http.MethodGet, "/api/payments/my", freelancer, models.RoleFreelancer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["payments"].([]any), 1)
}

func TestAPI_DisputeHoldBlocksRefund(t *testing.T) {
	api := newAPI(t)
	client, freelancer := uuid.New(), uuid.New()
	admin := uuid.New()

	w := api.do(t, http.MethodPost, "/api/payments", client, models.RoleClient, map[string]any{
		"job_id":        uuid.NewString(),
		"freelancer_id": freelancer.String(),
		"amount":        200,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	paymentID := decode(t, w)["id"].(string)

	w = api.gateway(t, map[string]any{"external_transaction_id": "gw-200", "payment_id": paymentID, "outcome": "succeeded"})
	require.Equal(t, http.StatusOK, w.Code)

	reportID := uuid.NewString()
	w = api.dispute(t, map[string]any{
		"report_id":     reportID,
		"payment_id":    paymentID,
		"reported_user": freelancer.String(),
		"reported_by":   client.String(),
		"status":        "under_review",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(t, http.MethodPost, "/api/payments/"+paymentID+"/refund", client, models.RoleClient, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "DISPUTE_HOLD_ACTIVE", body["code"])
	assert.Equal(t, "escrowed", body["details"].(map[string]any)["status"])

	w = api.do(t, http.MethodGet, "/api/admin/payments/"+paymentID+"/holds", admin, models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["active_hold"])

	// Эскалация и решение администратора.
	w = api.dispute(t, map[string]any{"report_id": reportID, "payment_id": paymentID, "status": "escalated"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disputed", decode(t, w)["status"])

	w = api.dispute(t, map[string]any{"report_id": reportID, "payment_id": paymentID, "status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disputed", decode(t, w)["status"])

	w = api.do(t, http.MethodPost, "/api/admin/payments/"+paymentID+"/resolution", client, models.RoleClient, map[string]any{"action": "refund"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, "/api/admin/payments/"+paymentID+"/resolution", admin, models.RoleAdmin, map[string]any{"action": "refund"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "refunded", decode(t, w)["status"])

	w = api.do(t, http.MethodPost, "/api/admin/payments/"+paymentID+"/reconcile", admin, models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["consistent"])

	w = api.do(t, http.MethodPost, "/api/admin/reconcile/sweep", admin, models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sweep := decode(t, w)
	assert.Equal(t, float64(1), sweep["checked"])
	assert.Empty(t, sweep["anomalies"])
}

func TestAPI_AccessControl(t *testing.T) {
	api := newAPI(t)
	client, freelancer, stranger := uuid.New(), uuid.New(), uuid.New()

	w := api.do(t, http.MethodGet, "/api/payments/my", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/api/payments", client, models.RoleClient, map[string]any{
		"job_id":        uuid.NewString(),
		"freelancer_id": freelancer.String(),
		"amount":        "10",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	paymentID := decode(t, w)["id"].(string)

	w = api.do(t, http.MethodGet, "/api/payments/"+paymentID, stranger, models.RoleClient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/payments/not-a-uuid", client, models.RoleClient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/payments/"+paymentID+"/release", client, models.RoleClient, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, w)["code"])

	w = api.do(t, http.MethodPost, "/api/payments", client, models.RoleClient, map[string]any{
		"job_id":        uuid.NewString(),
		"freelancer_id": freelancer.String(),
		"amount":        "-5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["code"])
}

func TestAPI_HooksRequireCredentials(t *testing.T) {
	api := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gateway", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(middleware.GatewaySignatureHeader, "deadbeef")
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/hooks/disputes", bytes.NewReader([]byte(`{}`)))
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.gateway(t, map[string]any{"external_transaction_id": "gw-x", "payment_id": uuid.NewString(), "outcome": "succeeded"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_PAYMENT", decode(t, w)["code"])
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := newAPI(t)

	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disabled", decode(t, w)["checks"].(map[string]any)["database"])

	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "escrow_http_requests_total")
}
