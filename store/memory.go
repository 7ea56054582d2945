// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
	"time"

	"modelarena/core/orchestrator"
	"modelarena/core/orchestrator/cost"
)

// MemoryStore is an in-memory orchestrator.Store for tests and local
// development. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	comparisons map[string]*orchestrator.Comparison
	attempts    []orchestrator.ResponseAttempt
	usage       []cost.UsageRecord
}

var _ orchestrator.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comparisons: make(map[string]*orchestrator.Comparison),
	}
}

// SaveComparison stores a deep-enough copy keyed by query id.
func (s *MemoryStore) SaveComparison(ctx context.Context, c *orchestrator.Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	cp.Responses = append([]orchestrator.ResponseAttempt(nil), c.Responses...)
	if c.Metrics != nil {
		m := *c.Metrics
		cp.Metrics = &m
	}
	s.comparisons[c.QueryID] = &cp
	return nil
}

// LoadComparison retrieves a comparison by query id.
func (s *MemoryStore) LoadComparison(ctx context.Context, queryID string) (*orchestrator.Comparison, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comparisons[queryID]
	if !ok {
		return nil, orchestrator.ErrNotFound
	}
	cp := *c
	cp.Responses = append([]orchestrator.ResponseAttempt(nil), c.Responses...)
	if c.Metrics != nil {
		m := *c.Metrics
		cp.Metrics = &m
	}
	return &cp, nil
}

// AppendAttempt logs one response attempt.
func (s *MemoryStore) AppendAttempt(ctx context.Context, attempt *orchestrator.ResponseAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

// AppendUsage logs one settled usage record.
func (s *MemoryStore) AppendUsage(ctx context.Context, record *cost.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = int64(len(s.usage) + 1)
	s.usage = append(s.usage, *record)
	return nil
}

// UserSpend sums settled usage for a user since the given time. A zero
// since means all time.
func (s *MemoryStore) UserSpend(ctx context.Context, userID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, r := range s.usage {
		if r.UserID != userID {
			continue
		}
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		total += r.CostUSD
	}
	return total, nil
}

// Attempts returns a copy of the attempt log.
func (s *MemoryStore) Attempts() []orchestrator.ResponseAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]orchestrator.ResponseAttempt(nil), s.attempts...)
}

// Usage returns a copy of the usage log.
func (s *MemoryStore) Usage() []cost.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cost.UsageRecord(nil), s.usage...)
}
