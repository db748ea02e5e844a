package services_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/services"
	"github.com/mediavault/mediavault/test/util"
)

func newCreditService(t *testing.T) *services.CreditService {
	db := util.SetupTestDatabase(t)
	return services.NewCreditService(db, config.DefaultTierTable())
}

func TestEnsureSubscription_GrantsOnce(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	sub, err := svc.EnsureSubscription(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "free", sub.Tier)
	assert.Equal(t, 50, sub.MonthlyRemaining)
	assert.Equal(t, 0, sub.TopupBalance)

	// A second call is a read, not a second grant.
	sub, err = svc.EnsureSubscription(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 50, sub.MonthlyRemaining)

	ledger, err := svc.Ledger(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.TransactionGrant, ledger[0].Kind)
	assert.Equal(t, 50, ledger[0].Delta)
}

func TestDeduct_DrainsMonthlyBeforeTopup(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	require.NoError(t, svc.Topup(ctx, "tenant-1", 100, "order-1"))

	// 50 monthly + 100 topup; deducting 70 empties monthly and takes 20
	// from topup.
	require.NoError(t, svc.Deduct(ctx, "tenant-1", 70, "video processing", services.TxRef{JobID: "job-1"}))

	sub, err := svc.EnsureSubscription(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sub.MonthlyRemaining)
	assert.Equal(t, 80, sub.TopupBalance)
}

func TestDeduct_InsufficientCredits(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	err := svc.Deduct(ctx, "tenant-1", 51, "video processing", services.TxRef{JobID: "job-1"})
	assert.ErrorIs(t, err, services.ErrInsufficientCredits)

	// The failed attempt must not leave a ledger row behind the grant.
	ledger, err := svc.Ledger(ctx, "tenant-1", 10)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)

	balance, err := svc.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 50, balance)
}

func TestRefund_IdempotentPerJob(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	refunded := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_credits_refunded_total"})
	svc.SetRefundCounter(refunded)

	require.NoError(t, svc.Deduct(ctx, "tenant-1", 30, "video processing", services.TxRef{JobID: "job-1"}))
	require.NoError(t, svc.Refund(ctx, "tenant-1", 30, "job failed", services.TxRef{JobID: "job-1"}))

	// A duplicate refund for the same job is suppressed, not doubled,
	// and does not count toward the refund metric.
	require.NoError(t, svc.Refund(ctx, "tenant-1", 30, "job failed", services.TxRef{JobID: "job-1"}))

	assert.Equal(t, 30.0, testutil.ToFloat64(refunded))

	balance, err := svc.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 50, balance)

	ledger, err := svc.Ledger(ctx, "tenant-1", 10)
	require.NoError(t, err)

	refunds := 0
	for _, row := range ledger {
		if row.Kind == models.TransactionRefund {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)
}

func TestRefund_OverflowsToTopupAtMonthlyCap(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	require.NoError(t, svc.Topup(ctx, "tenant-1", 100, "order-1"))

	// Deduct 60: monthly 50 -> 0, topup 100 -> 90.
	require.NoError(t, svc.Deduct(ctx, "tenant-1", 60, "video processing", services.TxRef{JobID: "job-1"}))
	require.NoError(t, svc.Refund(ctx, "tenant-1", 60, "job failed", services.TxRef{JobID: "job-1"}))

	sub, err := svc.EnsureSubscription(ctx, "tenant-1")
	require.NoError(t, err)
	// Monthly refills to its 50 cap first; the remainder lands in topup.
	assert.Equal(t, 50, sub.MonthlyRemaining)
	assert.Equal(t, 100, sub.TopupBalance)
}

func TestMonthlyReset(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deduct(ctx, "tenant-1", 45, "video processing", services.TxRef{JobID: "job-1"}))
	require.NoError(t, svc.MonthlyReset(ctx, "tenant-1"))

	sub, err := svc.EnsureSubscription(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 50, sub.MonthlyRemaining)

	// A reset at full allocation records nothing.
	require.NoError(t, svc.MonthlyReset(ctx, "tenant-1"))
	ledger, err := svc.Ledger(ctx, "tenant-1", 10)
	require.NoError(t, err)

	grants := 0
	for _, row := range ledger {
		if row.Kind == models.TransactionGrant {
			grants++
		}
	}
	assert.Equal(t, 2, grants) // initial allocation + one reset
}

func TestCheckDuration(t *testing.T) {
	svc := newCreditService(t)
	ctx := context.Background()

	check, err := svc.CheckDuration(ctx, "tenant-1", 45)
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	check, err = svc.CheckDuration(ctx, "tenant-1", 90)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, 60, check.MaxDurationMins)
	assert.Equal(t, "pro", check.RequiredTier)
}
