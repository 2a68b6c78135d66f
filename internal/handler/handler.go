package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"fandry/internal/config"
	"fandry/internal/service"
	"fandry/pkg/logger"
	"fandry/pkg/response"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// Handler holds the services behind the HTTP API.
type Handler struct {
	cfg          *config.Config
	balances     *service.BalanceService
	pricing      *service.PricingService
	entitlements *service.EntitlementService
	checkout     *service.CheckoutService
}

func NewHandler(
	cfg *config.Config,
	balances *service.BalanceService,
	pricing *service.PricingService,
	entitlements *service.EntitlementService,
	checkout *service.CheckoutService,
) *Handler {
	return &Handler{
		cfg:          cfg,
		balances:     balances,
		pricing:      pricing,
		entitlements: entitlements,
		checkout:     checkout,
	}
}

func currentUser(c *gin.Context) (int64, bool) {
	userID := c.GetInt64(ctxUserID)
	return userID, userID > 0
}

func idempotencyKey(c *gin.Context) string {
	return c.GetHeader("Idempotency-Key")
}

// ============================================================
// Pricing and points
// ============================================================

// GetPurchaseOptions
// GET /api/v1/posts/:id/purchase-options
func (h *Handler) GetPurchaseOptions(c *gin.Context) {
	contentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contentID <= 0 {
		response.ParamError(c, "invalid post id")
		return
	}

	var userID *int64
	if id, ok := currentUser(c); ok {
		userID = &id
	}

	opts, err := h.pricing.ResolvePurchaseOptions(c.Request.Context(), userID, contentID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, opts)
}

// GetBalance
// GET /api/v1/points/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, _ := currentUser(c)
	balance, err := h.balances.GetBalance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":         balance.UserID,
		"balance":         balance.Balance,
		"total_purchased": balance.TotalPurchased,
		"total_spent":     balance.TotalSpent,
	})
}

// GetTransactions
// GET /api/v1/points/transactions?limit=20
func (h *Handler) GetTransactions(c *gin.Context) {
	userID, _ := currentUser(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		response.ParamError(c, "invalid limit")
		return
	}

	rows, err := h.balances.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows})
}

// ListPackages
// GET /api/v1/points/packages
func (h *Handler) ListPackages(c *gin.Context) {
	response.Success(c, gin.H{"list": h.cfg.Business.PointPackages})
}

// ============================================================
// Checkout
// ============================================================

type PurchaseWithPointsRequest struct {
	PostID int64 `json:"post_id" binding:"required,gt=0"`
}

// PurchaseWithPoints
// POST /api/v1/purchases/points
func (h *Handler) PurchaseWithPoints(c *gin.Context) {
	var req PurchaseWithPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, _ := currentUser(c)
	result, err := h.checkout.PurchaseWithPoints(c.Request.Context(), userID, req.PostID, idempotencyKey(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type CardCheckoutRequest struct {
	PostID     int64  `json:"post_id" binding:"required,gt=0"`
	SuccessURL string `json:"success_url" binding:"required,url"`
	CancelURL  string `json:"cancel_url" binding:"required,url"`
}

// CreateCardCheckout
// POST /api/v1/checkout/stripe
func (h *Handler) CreateCardCheckout(c *gin.Context) {
	var req CardCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, _ := currentUser(c)
	result, err := h.checkout.CreateCardCheckout(c.Request.Context(), userID, req.PostID, req.SuccessURL, req.CancelURL, idempotencyKey(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type HybridCheckoutRequest struct {
	PostID      int64  `json:"post_id" binding:"required,gt=0"`
	PointsToUse int64  `json:"points_to_use" binding:"gte=0"`
	SuccessURL  string `json:"success_url" binding:"required,url"`
	CancelURL   string `json:"cancel_url" binding:"required,url"`
}

// CreateHybridCheckout
// POST /api/v1/checkout/hybrid
func (h *Handler) CreateHybridCheckout(c *gin.Context) {
	var req HybridCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, _ := currentUser(c)
	result, err := h.checkout.CreateHybridCheckout(c.Request.Context(), userID, req.PostID, req.PointsToUse,
		req.SuccessURL, req.CancelURL, idempotencyKey(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type PointsPackageCheckoutRequest struct {
	PackageID  string `json:"package_id" binding:"required"`
	SuccessURL string `json:"success_url" binding:"required,url"`
	CancelURL  string `json:"cancel_url" binding:"required,url"`
}

// CreatePointsCheckout
// POST /api/v1/checkout/points-package
func (h *Handler) CreatePointsCheckout(c *gin.Context) {
	var req PointsPackageCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, _ := currentUser(c)
	result, err := h.checkout.CreatePointsCheckout(c.Request.Context(), userID, req.PackageID, req.SuccessURL, req.CancelURL, idempotencyKey(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// GetOrder
// GET /api/v1/checkout/orders/:order_no
func (h *Handler) GetOrder(c *gin.Context) {
	userID, _ := currentUser(c)
	result, err := h.checkout.GetOrder(c.Request.Context(), userID, c.Param("order_no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListOrders
// GET /api/v1/checkout/orders?page=1&page_size=20
func (h *Handler) ListOrders(c *gin.Context) {
	userID, _ := currentUser(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	orders, total, err := h.checkout.ListOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type TipRequest struct {
	PostID  int64  `json:"post_id" binding:"required,gt=0"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
	Message string `json:"message" binding:"max=500"`
}

// Tip
// POST /api/v1/tips
func (h *Handler) Tip(c *gin.Context) {
	var req TipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, _ := currentUser(c)
	result, err := h.checkout.TipWithPoints(c.Request.Context(), service.TipRequest{
		UserID:         userID,
		ContentID:      req.PostID,
		Amount:         req.Amount,
		Message:        req.Message,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListPurchases
// GET /api/v1/purchases?limit=50
func (h *Handler) ListPurchases(c *gin.Context) {
	userID, _ := currentUser(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	purchases, err := h.entitlements.ListPurchases(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": purchases})
}

// ============================================================
// Admin
// ============================================================

type GrantPointsRequest struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason" binding:"required,max=200"`
}

// GrantPoints
// POST /api/v1/admin/points/grant
func (h *Handler) GrantPoints(c *gin.Context) {
	var req GrantPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	adminID, _ := currentUser(c)
	trans, err := h.balances.GrantPoints(c.Request.Context(), adminID, req.UserID, req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// VerifyLedger
// GET /api/v1/admin/ledger/:user_id/verify
func (h *Handler) VerifyLedger(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "invalid user_id")
		return
	}

	report, err := h.balances.VerifyLedger(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

// ============================================================
// Processor webhook
// ============================================================

// StripeWebhook answers 2xx only once the event is durably applied, so the processor redelivers otherwise.
// POST /api/v1/webhooks/stripe
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ParamError(c, "unreadable body")
		return
	}

	err = h.checkout.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			logger.Warn("webhook rejected", "error", err)
			response.Failure(c, http.StatusBadRequest, response.CodeInvalidSignature, service.Code(err), "invalid signature")
			return
		}
		logger.Error("webhook processing failed", "error", err)
		response.ServerError(c, "webhook processing failed")
		return
	}
	response.Success(c, gin.H{"received": true})
}
