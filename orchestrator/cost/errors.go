// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for ledger operations.
var (
	// ErrInvalidInput indicates a nil or malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReservationNotFound indicates an unknown or already-settled
	// reservation.
	ErrReservationNotFound = errors.New("reservation not found")
)

// BudgetExceededError reports that a reservation would push a user over
// their spending budget for the current horizon.
type BudgetExceededError struct {
	UserID     string        `json:"user_id"`
	BudgetUSD  float64       `json:"budget_usd"`
	SpentUSD   float64       `json:"spent_usd"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for user %q: $%.4f spent of $%.4f budget, retry after %s",
		e.UserID, e.SpentUSD, e.BudgetUSD, e.RetryAfter)
}
