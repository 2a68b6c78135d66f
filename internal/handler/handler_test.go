package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fandry/internal/config"
	"fandry/internal/infrastructure/cache"
	"fandry/internal/infrastructure/database/databasetest"
	"fandry/internal/model"
	"fandry/internal/processor"
	"fandry/internal/processor/processortest"
	"fandry/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	balances *service.BalanceService
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := databasetest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Business.PointPackages = []config.PointPackage{{ID: "p500", Points: 500, Price: 500}}

	balances := service.NewBalanceService(db, cache.NewBalanceCache(rdb, time.Minute), cfg)
	pricing := service.NewPricingService(db, balances)
	entitlements := service.NewEntitlementService(db, cfg)
	checkout := service.NewCheckoutService(db, rdb, cfg, processortest.New(), balances, pricing, entitlements)

	h := NewHandler(cfg, balances, pricing, entitlements, checkout)
	return &testServer{router: SetupRouter(h, cfg), db: db, balances: balances}
}

func (s *testServer) content(t *testing.T, price int64, adult bool) int64 {
	t.Helper()
	c := &model.Content{OwnerID: 900, Title: "post", Kind: model.ContentKindPost, Price: price, IsAdult: adult, IsPublished: true}
	require.NoError(t, s.db.Create(c).Error)
	return c.ID
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := NewToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fandry_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/points/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", env.Error)

	w, _ = s.do(t, http.MethodGet, "/api/v1/points/balance", "garbage", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := NewToken("another-secret", 10, "", time.Hour)
	require.NoError(t, err)
	w, _ = s.do(t, http.MethodGet, "/api/v1/points/balance", other, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/points/balance", token(t, 10, ""), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
}

func TestPurchaseOptions(t *testing.T) {
	s := newTestServer(t)
	postID := s.content(t, 300, false)
	path := fmt.Sprintf("/api/v1/posts/%d/purchase-options", postID)

	w, env := s.do(t, http.MethodGet, path, "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var opts service.PurchaseOptions
	require.NoError(t, json.Unmarshal(env.Data, &opts))
	assert.Equal(t, []string{model.PaymentMethodCard}, opts.AllowedMethods)

	w, env = s.do(t, http.MethodGet, path, token(t, 10, ""), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &opts))
	assert.Len(t, opts.AllowedMethods, 3)

	w, env = s.do(t, http.MethodGet, "/api/v1/posts/9999/purchase-options", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CONTENT_NOT_FOUND", env.Error)

	w, _ = s.do(t, http.MethodGet, "/api/v1/posts/abc/purchase-options", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseWithPointsEndpoint(t *testing.T) {
	s := newTestServer(t)
	postID := s.content(t, 300, false)
	tok := token(t, 10, "")

	w, env := s.do(t, http.MethodPost, "/api/v1/purchases/points", tok, gin.H{"post_id": postID}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error)

	_, err := s.balances.GrantPoints(t.Context(), 1, 10, 500, "test")
	require.NoError(t, err)

	headers := map[string]string{"Idempotency-Key": "buy-1"}
	w, env = s.do(t, http.MethodPost, "/api/v1/purchases/points", tok, gin.H{"post_id": postID}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	var result service.CheckoutResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.OrderStatusCompleted, result.Status)

	w, env = s.do(t, http.MethodPost, "/api/v1/purchases/points", tok, gin.H{"post_id": postID}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var replay service.CheckoutResult
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.Equal(t, result.OrderNo, replay.OrderNo)

	w, env = s.do(t, http.MethodPost, "/api/v1/purchases/points", tok, gin.H{"post_id": postID}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ALREADY_PURCHASED", env.Error)

	w, _ = s.do(t, http.MethodPost, "/api/v1/purchases/points", tok, gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/purchases", tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), fmt.Sprintf("post:%d", postID))
}

func TestCheckoutAndWebhook(t *testing.T) {
	s := newTestServer(t)
	postID := s.content(t, 300, false)
	adultID := s.content(t, 300, true)
	tok := token(t, 10, "")
	_, err := s.balances.GrantPoints(t.Context(), 1, 10, 100, "test")
	require.NoError(t, err)

	urls := gin.H{"success_url": "https://fan.example/ok", "cancel_url": "https://fan.example/cancel"}

	body := gin.H{"post_id": adultID, "success_url": urls["success_url"], "cancel_url": urls["cancel_url"]}
	w, env := s.do(t, http.MethodPost, "/api/v1/checkout/stripe", tok, body, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ADULT_CONTENT_METHOD_FORBIDDEN", env.Error)

	body = gin.H{"post_id": postID, "points_to_use": 100, "success_url": urls["success_url"], "cancel_url": urls["cancel_url"]}
	w, env = s.do(t, http.MethodPost, "/api/v1/checkout/hybrid", tok, body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result service.CheckoutResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.OrderStatusProcessorRedirected, result.Status)
	assert.NotEmpty(t, result.RedirectURL)

	var order model.CheckoutOrder
	require.NoError(t, s.db.Where("order_no = ?", result.OrderNo).First(&order).Error)

	payload, _ := processortest.SignedEvent("evt_1", processor.EventSessionCompleted, *order.ProcessorSessionID)
	w, env = s.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", payload, map[string]string{"Stripe-Signature": "forged"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SIGNATURE", env.Error)

	payload, sig := processortest.SignedEvent("evt_1", processor.EventSessionCompleted, *order.ProcessorSessionID)
	w, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/checkout/orders/"+result.OrderNo, tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.OrderStatusCompleted, result.Status)
	require.NotNil(t, result.Purchase)

	w, env = s.do(t, http.MethodGet, "/api/v1/checkout/orders/"+result.OrderNo, token(t, 11, ""), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", env.Error)

	// unknown sessions are answered with 5xx so the processor redelivers
	payload, sig = processortest.SignedEvent("evt_2", processor.EventSessionCompleted, "cs_missing")
	w, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTipAndPackages(t *testing.T) {
	s := newTestServer(t)
	postID := s.content(t, 300, false)
	tok := token(t, 10, "")

	w, env := s.do(t, http.MethodGet, "/api/v1/points/packages", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "p500")

	w, env = s.do(t, http.MethodPost, "/api/v1/tips", tok, gin.H{"post_id": postID, "amount": 10}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error)

	body := gin.H{"package_id": "nope", "success_url": "https://fan.example/ok", "cancel_url": "https://fan.example/cancel"}
	w, env = s.do(t, http.MethodPost, "/api/v1/checkout/points-package", tok, body, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PACKAGE_NOT_FOUND", env.Error)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	grant := gin.H{"user_id": 10, "amount": 250, "reason": "support ticket"}

	w, _ := s.do(t, http.MethodPost, "/api/v1/admin/points/grant", token(t, 2, ""), grant, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := token(t, 2, "admin")
	w, env := s.do(t, http.MethodPost, "/api/v1/admin/points/grant", admin, grant, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/ledger/10/verify", admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report service.LedgerReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(250), report.Balance)
}

func TestParseToken(t *testing.T) {
	tok, err := NewToken(testSecret, 42, "admin", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	expired, err := NewToken(testSecret, 42, "", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.Error(t, err)
}
