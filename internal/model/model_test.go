package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusInitiated, OrderStatusPointsSettling, true},
		{OrderStatusInitiated, OrderStatusProcessorRedirected, true},
		{OrderStatusInitiated, OrderStatusCompleted, false},
		{OrderStatusPointsSettling, OrderStatusCompleted, true},
		{OrderStatusProcessorRedirected, OrderStatusCompleted, true},
		{OrderStatusProcessorRedirected, OrderStatusCanceled, true},
		{OrderStatusProcessorRedirected, OrderStatusFailed, false},
		{OrderStatusCompensationFailed, OrderStatusCanceled, true},
		{OrderStatusCompleted, OrderStatusCanceled, false},
		{OrderStatusCanceled, OrderStatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, IsTerminal(OrderStatusCompleted))
	assert.True(t, IsTerminal(OrderStatusFailed))
	assert.False(t, IsTerminal(OrderStatusCompensationFailed))
}

func TestContentTargetKey(t *testing.T) {
	at := time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC)

	post := &Content{ID: 12, Kind: ContentKindPost}
	assert.Equal(t, "post:12", post.TargetKey(at))

	plan := &Content{ID: 7, Kind: ContentKindMembership}
	assert.Equal(t, "plan:7:2026-10", plan.TargetKey(at))
	assert.Equal(t, "plan:7:2026-11", plan.TargetKey(at.Add(2*time.Hour)))
}

func TestTransactionTypes(t *testing.T) {
	assert.True(t, IsValidTransactionType(TransactionTypeAdminGrant))
	assert.False(t, IsValidTransactionType("gift"))
	assert.True(t, IsSpendType(TransactionTypeTip))
	assert.False(t, IsSpendType(TransactionTypeRefund))
}
