package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-enrich/internal/errs"
)

func testLedger(t *testing.T, policy *Policy) (*Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	l := NewLedger(NewMemStore(), policy).WithNow(func() time.Time { return now })
	return l, &now
}

func TestConsume_DeniesBeyondDailyLimit(t *testing.T) {
	policy := &Policy{
		DefaultMonthly: 3000,
		AlertThreshold: 0.8,
		Services:       map[string]ServicePolicy{"hunter": {DailyOverride: 3}},
	}
	l, _ := testLedger(t, policy)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.HasQuota(ctx, "hunter"))
		require.True(t, l.Consume(ctx, "hunter", 1), "consume %d should pass", i+1)
	}

	assert.False(t, l.HasQuota(ctx, "hunter"))
	assert.False(t, l.Consume(ctx, "hunter", 1))

	// The failed consume must not have moved the counter.
	info, err := l.Info(ctx, "hunter")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Used)
	assert.Equal(t, 0, info.Available)
}

func TestConsume_MultiUnitOverrunLeavesCounterIntact(t *testing.T) {
	policy := &Policy{Services: map[string]ServicePolicy{"s": {DailyOverride: 10}}, DefaultMonthly: 3000, AlertThreshold: 0.8}
	l, _ := testLedger(t, policy)
	ctx := context.Background()

	require.True(t, l.Consume(ctx, "s", 8))
	assert.False(t, l.Consume(ctx, "s", 3))

	info, err := l.Info(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 8, info.Used)
}

func TestLedger_DailyResetSnapshotsHistory(t *testing.T) {
	policy := &Policy{
		DefaultMonthly: 3000,
		AlertThreshold: 0.8,
		Services:       map[string]ServicePolicy{"clearbit": {DailyOverride: 5}},
	}
	l, now := testLedger(t, policy)
	ctx := context.Background()

	require.True(t, l.Consume(ctx, "clearbit", 5))
	l.RecordOutcome(ctx, "clearbit", true)
	l.RecordOutcome(ctx, "clearbit", false)
	require.False(t, l.HasQuota(ctx, "clearbit"))

	// Next UTC day: the budget is fresh and the old day is in history.
	*now = now.Add(24 * time.Hour)
	assert.True(t, l.HasQuota(ctx, "clearbit"))

	info, err := l.Info(ctx, "clearbit")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Used)
	assert.Equal(t, 5, info.Available)

	history, err := l.History(ctx, "clearbit", 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2026-03-01", history[0].Day)
	assert.Equal(t, 5, history[0].Used)
	assert.Equal(t, 1, history[0].Success)
	assert.Equal(t, 1, history[0].Error)
}

func TestLedger_SameDayNoReset(t *testing.T) {
	l, now := testLedger(t, nil)
	ctx := context.Background()

	require.True(t, l.Consume(ctx, "svc", 10))
	*now = now.Add(8 * time.Hour)

	info, err := l.Info(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, 10, info.Used)
}

func TestInfo_ResetInPointsAtUTCMidnight(t *testing.T) {
	l, _ := testLedger(t, nil)

	info, err := l.Info(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, info.ResetIn)
}

func TestSetAlertThreshold_Validation(t *testing.T) {
	l, _ := testLedger(t, nil)
	ctx := context.Background()

	assert.True(t, errs.IsValidation(l.SetAlertThreshold(ctx, "svc", 0)))
	assert.True(t, errs.IsValidation(l.SetAlertThreshold(ctx, "svc", 1.5)))
	assert.NoError(t, l.SetAlertThreshold(ctx, "svc", 0.5))
}

func TestAlertScan(t *testing.T) {
	policy := &Policy{
		DefaultMonthly: 3000,
		AlertThreshold: 0.8,
		Services: map[string]ServicePolicy{
			"hot":  {DailyOverride: 10},
			"cold": {DailyOverride: 10},
		},
	}
	l, _ := testLedger(t, policy)
	ctx := context.Background()

	require.True(t, l.Consume(ctx, "hot", 9))
	require.True(t, l.Consume(ctx, "cold", 2))

	alerts, err := l.AlertScan(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "hot", alerts[0].Service)
	assert.InDelta(t, 0.9, alerts[0].Percentage, 0.001)
	assert.InDelta(t, 0.8, alerts[0].Threshold, 0.001)
}

func TestAlertScan_PerServiceThresholdOverride(t *testing.T) {
	policy := &Policy{
		DefaultMonthly: 3000,
		AlertThreshold: 0.8,
		Services:       map[string]ServicePolicy{"svc": {DailyOverride: 10}},
	}
	l, _ := testLedger(t, policy)
	ctx := context.Background()

	require.NoError(t, l.SetAlertThreshold(ctx, "svc", 0.3))
	require.True(t, l.Consume(ctx, "svc", 4))

	alerts, err := l.AlertScan(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.InDelta(t, 0.3, alerts[0].Threshold, 0.001)
}

func TestHistory_WindowValidation(t *testing.T) {
	l, _ := testLedger(t, nil)
	ctx := context.Background()

	_, err := l.History(ctx, "svc", 0)
	assert.True(t, errs.IsValidation(err))
	_, err = l.History(ctx, "svc", 31)
	assert.True(t, errs.IsValidation(err))
}

func TestErrorRate(t *testing.T) {
	l, now := testLedger(t, nil)
	ctx := context.Background()

	l.RecordOutcome(ctx, "svc", true)
	l.RecordOutcome(ctx, "svc", true)
	l.RecordOutcome(ctx, "svc", false)
	l.RecordOutcome(ctx, "svc", false)

	// Roll the day so the outcomes land in history.
	*now = now.Add(24 * time.Hour)
	l.HasQuota(ctx, "svc")

	rate, err := l.ErrorRate(ctx, "svc", 7)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rate, 0.001)
}

func TestErrorRate_EmptyHistory(t *testing.T) {
	l, _ := testLedger(t, nil)
	rate, err := l.ErrorRate(context.Background(), "svc", 7)
	require.NoError(t, err)
	assert.Zero(t, rate)
}
