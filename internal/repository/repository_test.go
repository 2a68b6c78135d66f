package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"fandry/internal/infrastructure/database/databasetest"
	"fandry/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestBalanceRepository_GetOrCreate(t *testing.T) {
	db := databasetest.New(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	_, err := repo.GetByUserID(ctx, nil, 7)
	assert.ErrorIs(t, err, ErrBalanceNotFound)

	first, err := repo.GetOrCreate(ctx, nil, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Balance)

	second, err := repo.GetOrCreate(ctx, nil, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestBalanceRepository_GetOrCreateConcurrent(t *testing.T) {
	db := databasetest.New(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.GetOrCreate(ctx, nil, 9)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, db.Model(&model.PointBalance{}).Where("user_id = ?", 9).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBalanceRepository_DeductGuards(t *testing.T) {
	db := databasetest.New(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.PointBalance{UserID: 1, Balance: 100, Version: 3}).Error)

	err := repo.Deduct(ctx, db, 1, 150, 3, true)
	assert.ErrorIs(t, err, ErrBalanceNotEnough)

	err = repo.Deduct(ctx, db, 1, 60, 2, true)
	assert.ErrorIs(t, err, ErrOptimisticLock)

	require.NoError(t, repo.Deduct(ctx, db, 1, 60, 3, true))

	b, err := repo.GetByUserID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), b.Balance)
	assert.Equal(t, int64(60), b.TotalSpent)
	assert.Equal(t, 4, b.Version)
}

func TestBalanceRepository_Increase(t *testing.T) {
	db := databasetest.New(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.PointBalance{UserID: 1, Balance: 10}).Error)

	require.NoError(t, repo.Increase(ctx, db, 1, 500, 0, true))
	require.NoError(t, repo.Increase(ctx, db, 1, 5, 1, false))
	assert.ErrorIs(t, repo.Increase(ctx, db, 1, 5, 0, false), ErrOptimisticLock)
	assert.ErrorIs(t, repo.Increase(ctx, db, 99, 5, 0, false), ErrBalanceNotFound)

	b, err := repo.GetByUserID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(515), b.Balance)
	assert.Equal(t, int64(500), b.TotalPurchased)
}

func TestOrderRepository_UpdateStatusIsGuarded(t *testing.T) {
	db := databasetest.New(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := &model.CheckoutOrder{
		OrderNo:   "ORD1",
		RequestID: "req-1",
		UserID:    1,
		Purpose:   model.OrderPurposeContent,
		Method:    model.PaymentMethodPoints,
		Price:     300,
		Status:    model.OrderStatusInitiated,
	}
	require.NoError(t, repo.Create(ctx, nil, order))

	dup := *order
	dup.ID = 0
	dup.OrderNo = "ORD2"
	assert.ErrorIs(t, repo.Create(ctx, nil, &dup), ErrDuplicateRequest)

	require.NoError(t, repo.UpdateStatus(ctx, nil, "ORD1", model.OrderStatusInitiated, model.OrderStatusPointsSettling, nil))
	// replay affects nothing
	assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, "ORD1", model.OrderStatusInitiated, model.OrderStatusPointsSettling, nil), ErrOrderStatusInvalid)
	// not a legal edge
	assert.ErrorIs(t, repo.UpdateStatus(ctx, nil, "ORD1", model.OrderStatusPointsSettling, model.OrderStatusCanceled, nil), ErrOrderStatusInvalid)

	require.NoError(t, repo.UpdateStatus(ctx, nil, "ORD1", model.OrderStatusPointsSettling, model.OrderStatusCompleted, nil))

	got, err := repo.GetByOrderNo(ctx, nil, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	byReq, err := repo.GetByRequestID(ctx, nil, 1, "req-1")
	require.NoError(t, err)
	require.NotNil(t, byReq)
	assert.Equal(t, "ORD1", byReq.OrderNo)

	other, err := repo.GetByRequestID(ctx, nil, 2, "req-1")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestOrderRepository_OpenByTargetAndAttachSession(t *testing.T) {
	db := databasetest.New(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	for _, o := range []struct{ no, status string }{
		{"DONE", model.OrderStatusFailed},
		{"OPEN", model.OrderStatusInitiated},
	} {
		require.NoError(t, repo.Create(ctx, nil, &model.CheckoutOrder{
			OrderNo: o.no, RequestID: o.no, UserID: 1, TargetKey: "post:9",
			Purpose: model.OrderPurposeContent, Method: model.PaymentMethodCard,
			Price: 100, CardAmount: 100, Status: o.status,
		}))
	}

	open, err := repo.GetOpenByTarget(ctx, nil, 1, "post:9")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "OPEN", open.OrderNo)

	open, err = repo.GetOpenByTarget(ctx, nil, 2, "post:9")
	require.NoError(t, err)
	assert.Nil(t, open)

	attached, err := repo.AttachSession(ctx, nil, "DONE", "cs_1")
	require.NoError(t, err)
	assert.True(t, attached)
	attached, err = repo.AttachSession(ctx, nil, "DONE", "cs_2")
	require.NoError(t, err)
	assert.False(t, attached)

	got, err := repo.GetBySessionID(ctx, nil, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "DONE", got.OrderNo)
}

func TestOrderRepository_GetStaleOrders(t *testing.T) {
	db := databasetest.New(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	for i, no := range []string{"OLD", "NEW"} {
		require.NoError(t, repo.Create(ctx, nil, &model.CheckoutOrder{
			OrderNo: no, RequestID: no, UserID: int64(i + 1),
			Purpose: model.OrderPurposeContent, Method: model.PaymentMethodCard,
			Price: 100, Status: model.OrderStatusProcessorRedirected,
		}))
	}
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&model.CheckoutOrder{}).Where("order_no = ?", "OLD").
		UpdateColumn("updated_at", old).Error)

	stale, err := repo.GetStaleOrders(ctx, model.OrderStatusProcessorRedirected, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "OLD", stale[0].OrderNo)
}

func TestPurchaseRepository_UniqueTarget(t *testing.T) {
	db := databasetest.New(t)
	repo := NewPurchaseRepository(db)
	ctx := context.Background()

	record := &model.PurchaseRecord{PurchaseNo: "PUR1", UserID: 1, TargetKey: "post:5", ContentID: 5, OrderNo: "ORD1", Amount: 300}
	require.NoError(t, repo.Create(ctx, nil, record))

	again := &model.PurchaseRecord{PurchaseNo: "PUR2", UserID: 1, TargetKey: "post:5", ContentID: 5, OrderNo: "ORD2", Amount: 300}
	assert.ErrorIs(t, repo.Create(ctx, nil, again), ErrAlreadyPurchased)

	ok, err := repo.ExistsByTarget(ctx, nil, 1, "post:5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsByTarget(ctx, nil, 2, "post:5")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionRepository_NetAmountByOrderNo(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	orderNo := "ORD1"
	rows := []*model.PointTransaction{
		{TransactionNo: "T1", UserID: 1, OrderNo: &orderNo, Amount: -100, Type: model.TransactionTypePostPurchase, BalanceBefore: 100, BalanceAfter: 0},
		{TransactionNo: "T2", UserID: 1, OrderNo: &orderNo, Amount: 100, Type: model.TransactionTypeRefund, BalanceBefore: 0, BalanceAfter: 100},
	}
	net, err := repo.NetAmountByOrderNo(ctx, nil, orderNo)
	require.NoError(t, err)
	assert.Equal(t, int64(0), net)

	require.NoError(t, repo.Create(ctx, nil, rows[0]))
	net, err = repo.NetAmountByOrderNo(ctx, nil, orderNo)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), net)

	require.NoError(t, repo.Create(ctx, nil, rows[1]))
	net, err = repo.NetAmountByOrderNo(ctx, nil, orderNo)
	require.NoError(t, err)
	assert.Equal(t, int64(0), net)

	latest, err := repo.ListByUserID(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "T2", latest[0].TransactionNo)
}

func TestEventRepository_RecordDedupes(t *testing.T) {
	db := databasetest.New(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	ev, created, err := repo.Record(ctx, &model.ProcessorEvent{Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed"})
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, repo.MarkProcessed(ctx, ev.ID, ""))

	again, created, err := repo.Record(ctx, &model.ProcessorEvent{Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ev.ID, again.ID)
	assert.NotNil(t, again.ProcessedAt)
}

func TestDiscrepancyRepository_Resolve(t *testing.T) {
	db := databasetest.New(t)
	repo := NewDiscrepancyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, &model.LedgerDiscrepancy{OrderNo: "ORD1", UserID: 1, Kind: model.DiscrepancyCompensationFailed, Amount: 100}))
	require.NoError(t, repo.Create(ctx, nil, &model.LedgerDiscrepancy{OrderNo: "ORD1", UserID: 1, Kind: model.DiscrepancyPaidAfterCancel, Amount: 200}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.Resolve(ctx, tx, "ORD1", model.DiscrepancyCompensationFailed)
	}))

	open, err := repo.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.DiscrepancyPaidAfterCancel, open[0].Kind)
}
