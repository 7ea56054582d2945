// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLedger(client, opts...), mr
}

func TestReserve_ChargesEstimate(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(10.0))
	ctx := context.Background()

	res, err := l.Reserve(ctx, "alice", 2.5)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.UserID)
	assert.Equal(t, 2.5, res.EstimateUSD)
	assert.NotEmpty(t, res.ID)

	spent, err := l.Spent(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, spent, 1e-9)
}

func TestReserve_RejectsOverBudget(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(5.0))
	ctx := context.Background()

	_, err := l.Reserve(ctx, "alice", 4.0)
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "alice", 2.0)
	require.Error(t, err)

	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "alice", budgetErr.UserID)
	assert.Equal(t, 5.0, budgetErr.BudgetUSD)
	assert.InDelta(t, 4.0, budgetErr.SpentUSD, 1e-9)

	// The rejected charge was reverted.
	spent, err := l.Spent(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, spent, 1e-9)
}

func TestReserve_ExactBudgetAdmitted(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(5.0))

	_, err := l.Reserve(context.Background(), "alice", 5.0)
	assert.NoError(t, err)
}

func TestReserve_InvalidInput(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "", 1.0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.Reserve(ctx, "alice", -1.0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSettle_RefundsUnusedEstimate(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(10.0))
	ctx := context.Background()

	res, err := l.Reserve(ctx, "alice", 3.0)
	require.NoError(t, err)

	require.NoError(t, l.Settle(ctx, res, 1.2))

	spent, err := l.Spent(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 1.2, spent, 1e-9)
}

func TestSettle_ActualAboveEstimateCapped(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(10.0))
	ctx := context.Background()

	res, err := l.Reserve(ctx, "alice", 2.0)
	require.NoError(t, err)

	// Overrun is written off; the ledger never exceeds the reservation.
	require.NoError(t, l.Settle(ctx, res, 3.5))

	spent, err := l.Spent(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, spent, 1e-9)
}

func TestSettle_DoubleSettleRejected(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(10.0))
	ctx := context.Background()

	res, err := l.Reserve(ctx, "alice", 2.0)
	require.NoError(t, err)

	require.NoError(t, l.Settle(ctx, res, 1.0))
	assert.ErrorIs(t, l.Settle(ctx, res, 1.0), ErrReservationNotFound)

	// The second settle refunded nothing.
	spent, err := l.Spent(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, spent, 1e-9)
}

func TestRelease_RefundsEverything(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(10.0))
	ctx := context.Background()

	res, err := l.Reserve(ctx, "alice", 4.0)
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, res))

	spent, err := l.Spent(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, spent, 1e-9)
}

func TestSpend_ExpiresWithHorizon(t *testing.T) {
	l, mr := newTestLedger(t, WithBudget(5.0), WithHorizon(time.Hour))
	ctx := context.Background()

	_, err := l.Reserve(ctx, "alice", 5.0)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "alice", 1.0)
	require.Error(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = l.Reserve(ctx, "alice", 1.0)
	assert.NoError(t, err)
}

func TestSpent_UnknownUserIsZero(t *testing.T) {
	l, _ := newTestLedger(t)

	spent, err := l.Spent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0.0, spent)
}

func TestLedger_UsersIsolated(t *testing.T) {
	l, _ := newTestLedger(t, WithBudget(5.0))
	ctx := context.Background()

	_, err := l.Reserve(ctx, "alice", 5.0)
	require.NoError(t, err)

	// Alice exhausting her budget does not affect Bob.
	_, err = l.Reserve(ctx, "bob", 5.0)
	assert.NoError(t, err)
}
