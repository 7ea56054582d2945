// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package cost provides budget enforcement and spend accounting for model
// invocations. Spending follows a two-phase reserve/settle protocol: a
// conservative estimate is charged against the user's rolling horizon
// before dispatch, and the difference to the actual cost is refunded after
// completion. This bounds concurrent overspend without over-billing
// failed queries.
package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Default ledger settings.
const (
	// DefaultBudgetUSD is the per-user spending budget per horizon.
	DefaultBudgetUSD = 5.0

	// DefaultHorizon is the rolling window over which spend accumulates.
	DefaultHorizon = 24 * time.Hour
)

// Reservation is a claim against a user's budget, held from dispatch
// until settle or release.
type Reservation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	EstimateUSD float64   `json:"estimate_usd"`
	CreatedAt   time.Time `json:"created_at"`

	settled bool
}

// Ledger tracks rolling spend per user in Redis and enforces budgets.
// The increment-then-check on a shared float key gives atomic
// check-and-set semantics: two concurrent reservations can never both
// observe the pre-increment total.
type Ledger struct {
	client    *redis.Client
	budgetUSD float64
	horizon   time.Duration
}

// Option configures the ledger.
type Option func(*Ledger)

// WithBudget sets the per-user budget per horizon.
func WithBudget(usd float64) Option {
	return func(l *Ledger) {
		l.budgetUSD = usd
	}
}

// WithHorizon sets the spend accumulation window.
func WithHorizon(d time.Duration) Option {
	return func(l *Ledger) {
		l.horizon = d
	}
}

// NewLedger creates a cost ledger.
func NewLedger(client *redis.Client, opts ...Option) *Ledger {
	l := &Ledger{
		client:    client,
		budgetUSD: DefaultBudgetUSD,
		horizon:   DefaultHorizon,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve charges a conservative estimate against the user's budget
// before dispatch. If the post-increment total exceeds the budget the
// charge is reverted and a *BudgetExceededError is returned.
func (l *Ledger) Reserve(ctx context.Context, userID string, estimateUSD float64) (*Reservation, error) {
	if userID == "" || estimateUSD < 0 {
		return nil, ErrInvalidInput
	}

	key := l.key(userID)

	total, err := l.client.IncrByFloat(ctx, key, estimateUSD).Result()
	if err != nil {
		return nil, fmt.Errorf("cost reservation for user %q failed: %w", userID, err)
	}

	// Start the horizon on first spend; repair a missing TTL otherwise.
	ttl, err := l.client.TTL(ctx, key).Result()
	if err == nil && ttl < 0 {
		_ = l.client.Expire(ctx, key, l.horizon).Err()
		ttl = l.horizon
	}

	if total > l.budgetUSD {
		// Revert so a rejected caller is not billed.
		if _, err := l.client.IncrByFloat(ctx, key, -estimateUSD).Result(); err != nil {
			return nil, fmt.Errorf("failed to revert over-budget reservation for user %q: %w", userID, err)
		}
		retryAfter := l.horizon
		if ttl > 0 {
			retryAfter = ttl
		}
		return nil, &BudgetExceededError{
			UserID:     userID,
			BudgetUSD:  l.budgetUSD,
			SpentUSD:   total - estimateUSD,
			RetryAfter: retryAfter,
		}
	}

	return &Reservation{
		ID:          uuid.New().String(),
		UserID:      userID,
		EstimateUSD: estimateUSD,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Settle reconciles a reservation with the actual cost, refunding the
// unused portion of the estimate. An actual cost above the estimate is
// written off rather than charged; the reservation is the billing cap.
func (l *Ledger) Settle(ctx context.Context, res *Reservation, actualUSD float64) error {
	if res == nil || actualUSD < 0 {
		return ErrInvalidInput
	}
	if res.settled {
		return ErrReservationNotFound
	}
	res.settled = true

	refund := res.EstimateUSD - actualUSD
	if refund <= 0 {
		return nil
	}

	if _, err := l.client.IncrByFloat(ctx, l.key(res.UserID), -refund).Result(); err != nil {
		return fmt.Errorf("cost settlement for user %q failed: %w", res.UserID, err)
	}
	return nil
}

// Release refunds the entire reservation. Used when a query is rejected
// after reservation (e.g. the cache already holds the result).
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	return l.Settle(ctx, res, 0)
}

// Spent returns the user's accumulated spend in the current horizon.
func (l *Ledger) Spent(ctx context.Context, userID string) (float64, error) {
	spent, err := l.client.Get(ctx, l.key(userID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read spend for user %q: %w", userID, err)
	}
	return spent, nil
}

// Budget returns the configured per-user budget.
func (l *Ledger) Budget() float64 {
	return l.budgetUSD
}

func (l *Ledger) key(userID string) string {
	return "costledger:" + userID
}
