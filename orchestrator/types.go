// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the query orchestration core: one
// natural-language prompt fanned out to N independent model backends,
// executed in parallel under retry/timeout policy, admission-controlled,
// deduplicated by request fingerprint, and reduced to a single comparable
// result with derived similarity metrics.
package orchestrator

import (
	"context"
	"time"

	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
)

// Parameters are the generation settings shared by every model in a
// query's set.
type Parameters struct {
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// Query is the immutable record of one submitted prompt. It is created on
// submit and never mutated; all derived entities reference it by id.
type Query struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Parameters Parameters `json:"parameters"`
	ModelSet   []string   `json:"model_set"`
	OwnerID    string     `json:"owner_id"`
	GroupID    string     `json:"group_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AttemptStatus is the terminal or pending state of one provider
// invocation.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptTimedOut  AttemptStatus = "timed_out"
)

// ResponseAttempt is the outcome of one provider invocation. The engine
// keeps the last attempt per model as canonical; earlier attempts are
// appended to the store for diagnostics.
type ResponseAttempt struct {
	QueryID       string         `json:"query_id"`
	Model         string         `json:"model"`
	AttemptNumber int            `json:"attempt_number"`
	Status        AttemptStatus  `json:"status"`
	Content       string         `json:"content,omitempty"`
	Usage         llm.UsageStats `json:"usage"`
	CostUSD       float64        `json:"cost_usd"`
	LatencyMs     int64          `json:"latency_ms"`
	ErrorKind     llm.ErrorKind  `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// ComparisonStatus is the lifecycle state of a Comparison.
type ComparisonStatus string

const (
	StatusQueued     ComparisonStatus = "queued"
	StatusProcessing ComparisonStatus = "processing"

	// StatusPartial is terminal-with-caveats: some but not all models
	// succeeded.
	StatusPartial   ComparisonStatus = "partial_completion"
	StatusCompleted ComparisonStatus = "completed"
	StatusFailed    ComparisonStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ComparisonStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// Comparison is the externally visible result: the finalized response per
// model plus the derived metrics. It becomes immutable once Status is
// terminal.
type Comparison struct {
	QueryID     string             `json:"query_id"`
	Responses   []ResponseAttempt  `json:"responses"`
	Metrics     *ComparisonMetrics `json:"metrics,omitempty"`
	Status      ComparisonStatus   `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// ComparisonMetrics are the derived similarity scores, each 0-100.
type ComparisonMetrics struct {
	Semantic  float64 `json:"semantic"`
	Length    float64 `json:"length"`
	Sentiment float64 `json:"sentiment"`
	Speed     float64 `json:"speed"`
}

// ProgressSnapshot is a point-in-time view of a running query.
type ProgressSnapshot struct {
	QueryID             string                   `json:"query_id"`
	Status              ComparisonStatus         `json:"status"`
	Progress            float64                  `json:"progress"`
	PerModelStatus      map[string]AttemptStatus `json:"per_model_status"`
	EstimatedCompletion *time.Time               `json:"estimated_completion,omitempty"`
}

// Store is the persistence collaborator. The core treats storage as a
// save/load plus append interface; engine internals are out of scope.
type Store interface {
	// SaveComparison persists the current state of a comparison.
	SaveComparison(ctx context.Context, c *Comparison) error

	// LoadComparison retrieves a comparison by query id.
	LoadComparison(ctx context.Context, queryID string) (*Comparison, error)

	// AppendAttempt logs one response attempt for diagnostics.
	AppendAttempt(ctx context.Context, attempt *ResponseAttempt) error

	// AppendUsage logs one settled usage record.
	AppendUsage(ctx context.Context, record *cost.UsageRecord) error

	// UserSpend sums settled usage for a user since the given time. A
	// zero since means all time.
	UserSpend(ctx context.Context, userID string, since time.Time) (float64, error)
}
