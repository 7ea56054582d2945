// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"time"
)

// UsageRecord is one settled model invocation, appended to the store for
// billing and reporting.
type UsageRecord struct {
	ID        int64     `json:"id,omitempty"`
	QueryID   string    `json:"query_id"`
	UserID    string    `json:"user_id"`
	GroupID   string    `json:"group_id,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
}
