// Package app assembles the services shared by the server and the operator CLI.
package app

import (
	"time"

	"fandry/internal/config"
	"fandry/internal/infrastructure/cache"
	"fandry/internal/processor"
	"fandry/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type Services struct {
	Balances     *service.BalanceService
	Pricing      *service.PricingService
	Entitlements *service.EntitlementService
	Checkout     *service.CheckoutService
}

// NewServices wires the service graph. redisClient may be nil for offline tools; checkouts then
// run without the per-user lock and the balance cache.
func NewServices(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, proc processor.Processor) *Services {
	var balanceCache *cache.BalanceCache
	if redisClient != nil {
		balanceCache = cache.NewBalanceCache(redisClient, time.Duration(cfg.Business.BalanceCacheTTLSeconds)*time.Second)
	}

	balances := service.NewBalanceService(db, balanceCache, cfg)
	pricing := service.NewPricingService(db, balances)
	entitlements := service.NewEntitlementService(db, cfg)
	checkout := service.NewCheckoutService(db, redisClient, cfg, proc, balances, pricing, entitlements)

	return &Services{
		Balances:     balances,
		Pricing:      pricing,
		Entitlements: entitlements,
		Checkout:     checkout,
	}
}
