package handler

import (
	"net/http"

	"fandry/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(TraceIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	auth := AuthMiddleware(cfg.Auth.JWTSecret)

	api := r.Group("/api/v1")
	{
		api.GET("/posts/:id/purchase-options", OptionalAuthMiddleware(cfg.Auth.JWTSecret), h.GetPurchaseOptions)

		// processor callbacks authenticate by signature, not by token
		api.POST("/webhooks/stripe", h.StripeWebhook)

		points := api.Group("/points", auth)
		{
			points.GET("/balance", h.GetBalance)
			points.GET("/transactions", h.GetTransactions)
			points.GET("/packages", h.ListPackages)
		}

		purchases := api.Group("/purchases", auth)
		{
			purchases.GET("", h.ListPurchases)
			purchases.POST("/points", h.PurchaseWithPoints)
		}

		checkout := api.Group("/checkout", auth)
		{
			checkout.POST("/stripe", h.CreateCardCheckout)
			checkout.POST("/hybrid", h.CreateHybridCheckout)
			checkout.POST("/points-package", h.CreatePointsCheckout)
			checkout.GET("/orders", h.ListOrders)
			checkout.GET("/orders/:order_no", h.GetOrder)
		}

		api.POST("/tips", auth, h.Tip)

		admin := api.Group("/admin", auth, RoleMiddleware(cfg.Auth.AdminRole))
		{
			admin.POST("/points/grant", h.GrantPoints)
			admin.GET("/ledger/:user_id/verify", h.VerifyLedger)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
