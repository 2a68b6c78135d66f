package service

import (
	"context"
	"testing"
	"time"

	"fandry/internal/model"
	"fandry/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) advance(d time.Duration) {
	f.checkout.now = func() time.Time { return time.Now().Add(d) }
}

func TestReconcile_ExpiresStaleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.content(t, model.Content{Price: 300})
	f.fund(t, 10, 100)

	result, err := f.checkout.CreateHybridCheckout(ctx, 10, post.ID, 100, "", "", "")
	require.NoError(t, err)
	sessionID := *f.order(t, result.OrderNo).ProcessorSessionID

	stats, err := f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{}, *stats)

	f.advance(25 * time.Hour)
	stats, err = f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Canceled)

	assert.Equal(t, model.OrderStatusCanceled, f.order(t, result.OrderNo).Status)
	assert.Equal(t, int64(100), f.balance(t, 10).Balance)
	session, ok := f.proc.Session(sessionID)
	require.True(t, ok)
	assert.Equal(t, processor.SessionExpired, session.Status)
	f.assertLedgerConsistent(t, 10)
}

func TestReconcile_ConfirmsSessionPaidAtProcessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.content(t, model.Content{Price: 300})

	result, err := f.checkout.CreateCardCheckout(ctx, 10, post.ID, "", "", "")
	require.NoError(t, err)
	f.proc.Complete(*f.order(t, result.OrderNo).ProcessorSessionID)

	f.advance(25 * time.Hour)
	stats, err := f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, model.OrderStatusCompleted, f.order(t, result.OrderNo).Status)
	assert.Equal(t, int64(1), f.count(t, &model.PurchaseRecord{}, "user_id = ?", 10))
}

func TestReconcile_ProcessorDownLeavesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.content(t, model.Content{Price: 300})

	result, err := f.checkout.CreateCardCheckout(ctx, 10, post.ID, "", "", "")
	require.NoError(t, err)
	f.proc.FailExpire = true

	f.advance(25 * time.Hour)
	stats, err := f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, model.OrderStatusProcessorRedirected, f.order(t, result.OrderNo).Status)
}

func TestReconcile_FailsAbandonedInitiatedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 10, 100)

	order := f.initiatedOrder(t, "ORD-stale-1", 10, 80, 220)
	assert.Equal(t, int64(20), f.balance(t, 10).Balance)

	f.advance(time.Hour)
	stats, err := f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got := f.order(t, order.OrderNo)
	assert.Equal(t, model.OrderStatusFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)
	assert.Equal(t, int64(100), f.balance(t, 10).Balance)
	f.assertLedgerConsistent(t, 10)
}

func TestReconcile_RetriesFailedCompensation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.content(t, model.Content{Price: 300})
	f.fund(t, 10, 100)

	result, err := f.checkout.CreateHybridCheckout(ctx, 10, post.ID, 100, "", "", "")
	require.NoError(t, err)
	sessionID := *f.order(t, result.OrderNo).ProcessorSessionID

	f.ledger.failCredit.Store(true)
	_, err = f.checkout.CancelSession(ctx, sessionID, "expired")
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.Equal(t, model.OrderStatusCompensationFailed, f.order(t, result.OrderNo).Status)

	f.advance(time.Minute)
	stats, err := f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)

	f.ledger.failCredit.Store(false)
	stats, err = f.checkout.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)

	assert.Equal(t, model.OrderStatusCanceled, f.order(t, result.OrderNo).Status)
	assert.Equal(t, int64(100), f.balance(t, 10).Balance)

	var d model.LedgerDiscrepancy
	require.NoError(t, f.db.Where("order_no = ? AND kind = ?", result.OrderNo, model.DiscrepancyCompensationFailed).First(&d).Error)
	assert.NotNil(t, d.ResolvedAt)
	f.assertLedgerConsistent(t, 10)
}
