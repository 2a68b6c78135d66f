package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fandry/internal/config"
	"fandry/internal/infrastructure/cache"
	"fandry/internal/infrastructure/database/databasetest"
	"fandry/internal/model"
	"fandry/internal/processor/processortest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db           *gorm.DB
	mr           *miniredis.Miniredis
	cfg          *config.Config
	proc         *processortest.Fake
	ledger       *flakyLedger
	balances     *BalanceService
	pricing      *PricingService
	entitlements *EntitlementService
	checkout     *CheckoutService
}

// flakyLedger lets a test break refunds while debits keep working.
type flakyLedger struct {
	*BalanceService
	failCredit atomic.Bool
}

func (l *flakyLedger) CreditTx(ctx context.Context, tx *gorm.DB, m Mutation) (*model.PointTransaction, error) {
	if l.failCredit.Load() {
		return nil, errors.New("ledger unavailable")
	}
	return l.BalanceService.CreditTx(ctx, tx, m)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := databasetest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	cfg.Business.MaxTransactionsLimit = 100
	cfg.Business.PointPackages = []config.PointPackage{{ID: "p500", Points: 500, Price: 500}}

	balances := NewBalanceService(db, cache.NewBalanceCache(rdb, 5*time.Minute), cfg)
	ledger := &flakyLedger{BalanceService: balances}
	pricing := NewPricingService(db, balances)
	entitlements := NewEntitlementService(db, cfg)
	proc := processortest.New()

	return &fixture{
		db:           db,
		mr:           mr,
		cfg:          cfg,
		proc:         proc,
		ledger:       ledger,
		balances:     balances,
		pricing:      pricing,
		entitlements: entitlements,
		checkout:     NewCheckoutService(db, rdb, cfg, proc, ledger, pricing, entitlements),
	}
}

func (f *fixture) content(t *testing.T, c model.Content) *model.Content {
	t.Helper()
	if c.OwnerID == 0 {
		c.OwnerID = 900
	}
	if c.Title == "" {
		c.Title = "paid post"
	}
	if c.Kind == "" {
		c.Kind = model.ContentKindPost
	}
	c.IsPublished = true
	require.NoError(t, f.db.Create(&c).Error)
	return &c
}

func (f *fixture) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := f.balances.GrantPoints(context.Background(), 1, userID, amount, "test funding")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) *model.PointBalance {
	t.Helper()
	var b model.PointBalance
	require.NoError(t, f.db.Where("user_id = ?", userID).First(&b).Error)
	return &b
}

func (f *fixture) order(t *testing.T, orderNo string) *model.CheckoutOrder {
	t.Helper()
	var o model.CheckoutOrder
	require.NoError(t, f.db.Where("order_no = ?", orderNo).First(&o).Error)
	return &o
}

func (f *fixture) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func (f *fixture) assertLedgerConsistent(t *testing.T, userID int64) {
	t.Helper()
	report, err := f.balances.VerifyLedger(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "ledger problems: %v", report.Problems)
}

// initiatedOrder writes a hybrid order that reserved points but never reached the processor
// redirect, the state a crash between reservation and redirect leaves behind.
func (f *fixture) initiatedOrder(t *testing.T, orderNo string, userID, points, card int64) *model.CheckoutOrder {
	t.Helper()
	order := &model.CheckoutOrder{
		OrderNo:      orderNo,
		RequestID:    "req-" + orderNo,
		UserID:       userID,
		Purpose:      model.OrderPurposeContent,
		TargetKey:    "post:1",
		Method:       model.PaymentMethodHybrid,
		Price:        points + card,
		PointsAmount: points,
		CardAmount:   card,
		Status:       model.OrderStatusInitiated,
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		_, err := f.balances.DebitTx(context.Background(), tx, Mutation{
			UserID: userID, Amount: points, Type: model.TransactionTypePostPurchase, OrderNo: orderNo,
		})
		return err
	})
	require.NoError(t, err)
	return order
}
