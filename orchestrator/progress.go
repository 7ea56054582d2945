// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// ProgressTracker holds the per-query state machine visible to external
// readers. The execution engine is the sole writer; readers never block
// on anything but the RWMutex.
type ProgressTracker struct {
	mu      sync.RWMutex
	queries map[string]*queryProgress
}

type queryProgress struct {
	status         ComparisonStatus
	perModelStatus map[string]AttemptStatus
	latencies      []time.Duration // completed models, arrival order
	startedAt      time.Time
	updatedAt      time.Time
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{queries: make(map[string]*queryProgress)}
}

// Begin registers a query with every model pending.
func (t *ProgressTracker) Begin(queryID string, models []string) {
	perModel := make(map[string]AttemptStatus, len(models))
	for _, m := range models {
		perModel[m] = AttemptPending
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries[queryID] = &queryProgress{
		status:         StatusQueued,
		perModelStatus: perModel,
		startedAt:      time.Now(),
		updatedAt:      time.Now(),
	}
}

// SetStatus transitions the query-level status.
func (t *ProgressTracker) SetStatus(queryID string, status ComparisonStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queries[queryID]; ok {
		q.status = status
		q.updatedAt = time.Now()
	}
}

// RecordModelResult records one per-model terminal event. Latency is only
// meaningful for succeeded models and feeds the completion estimate.
func (t *ProgressTracker) RecordModelResult(queryID, model string, status AttemptStatus, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.queries[queryID]
	if !ok {
		return
	}
	q.perModelStatus[model] = status
	if status == AttemptSucceeded && latency > 0 {
		q.latencies = append(q.latencies, latency)
	}
	q.updatedAt = time.Now()
}

// Snapshot returns a point-in-time copy of a query's progress, or nil if
// the query is unknown.
func (t *ProgressTracker) Snapshot(queryID string) *ProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	q, ok := t.queries[queryID]
	if !ok {
		return nil
	}

	perModel := make(map[string]AttemptStatus, len(q.perModelStatus))
	terminal := 0
	for model, status := range q.perModelStatus {
		perModel[model] = status
		if status != AttemptPending {
			terminal++
		}
	}

	total := len(q.perModelStatus)
	progress := 0.0
	if total > 0 {
		progress = float64(terminal) / float64(total)
	}

	snap := &ProgressSnapshot{
		QueryID:        queryID,
		Status:         q.status,
		Progress:       progress,
		PerModelStatus: perModel,
	}

	// Project the median latency of completed models onto the pending
	// ones: the estimate is recomputed on every read from current state.
	if pending := total - terminal; pending > 0 && len(q.latencies) > 0 {
		eta := q.startedAt.Add(medianDuration(q.latencies))
		if now := time.Now(); eta.Before(now) {
			eta = now.Add(medianDuration(q.latencies) / 2)
		}
		snap.EstimatedCompletion = &eta
	}

	return snap
}

// Forget drops a query's progress state. Called after the comparison is
// terminal and persisted; Status reads fall through to the store.
func (t *ProgressTracker) Forget(queryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.queries, queryID)
}

func medianDuration(values []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
