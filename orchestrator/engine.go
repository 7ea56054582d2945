// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	mathRand "math/rand"
	"sync"
	"time"

	"modelarena/core/orchestrator/llm"
	"modelarena/core/orchestrator/scoring"
	"modelarena/core/shared/logger"
)

// EngineConfig tunes retry and deadline policy.
type EngineConfig struct {
	// MaxAttempts is the per-model attempt ceiling.
	MaxAttempts int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// AttemptTimeout bounds a single adapter call.
	AttemptTimeout time.Duration

	// QueryDeadline bounds the whole fan-out. Pending models are marked
	// timed out and their calls cancelled when it expires.
	QueryDeadline time.Duration
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts:    3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		AttemptTimeout: 20 * time.Second,
		QueryDeadline:  60 * time.Second,
	}
}

// Engine fans one query out to its model set. Each model runs as an
// independent task; no task blocks another, and a per-model failure never
// aborts sibling tasks.
type Engine struct {
	registry  *llm.Registry
	tracker   *ProgressTracker
	store     Store
	publisher Publisher
	cfg       EngineConfig
	log       *logger.Logger
}

// NewEngine creates an execution engine.
func NewEngine(registry *llm.Registry, tracker *ProgressTracker, store Store, publisher Publisher, cfg EngineConfig) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 20 * time.Second
	}
	if cfg.QueryDeadline <= 0 {
		cfg.QueryDeadline = 60 * time.Second
	}
	return &Engine{
		registry:  registry,
		tracker:   tracker,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.New("engine"),
	}
}

// Execute runs the fan-out to completion and returns the terminal
// comparison. The engine owns the comparison while it is non-terminal.
func (e *Engine) Execute(ctx context.Context, query *Query) *Comparison {
	comp := &Comparison{
		QueryID:   query.ID,
		Status:    StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}

	e.tracker.Begin(query.ID, query.ModelSet)
	e.tracker.SetStatus(query.ID, StatusProcessing)

	overallCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryDeadline)
	defer cancel()

	numModels := len(query.ModelSet)
	results := make([]ResponseAttempt, numModels)

	// Serializes progress publication so events for one query go out in
	// the order their terminal events occurred.
	var publishMu sync.Mutex
	terminal := 0

	var wg sync.WaitGroup
	for i, model := range query.ModelSet {
		wg.Add(1)
		go func(idx int, model string) {
			defer wg.Done()

			attempt := e.runModel(overallCtx, query, model)

			e.tracker.RecordModelResult(query.ID, model, attempt.Status, time.Duration(attempt.LatencyMs)*time.Millisecond)

			publishMu.Lock()
			results[idx] = attempt
			terminal++
			snapshot := make([]ResponseAttempt, 0, terminal)
			for _, r := range results {
				if r.QueryID != "" {
					snapshot = append(snapshot, r)
				}
			}
			e.publishProgress(overallCtx, query.ID, snapshot)
			publishMu.Unlock()
		}(i, model)
	}
	wg.Wait()

	comp.Responses = results
	comp.Status = terminalStatus(results)

	if comp.Status != StatusFailed {
		comp.Metrics = computeMetrics(results)
	}

	now := time.Now().UTC()
	comp.CompletedAt = &now

	e.tracker.SetStatus(query.ID, comp.Status)

	e.publisher.Notify(ctx, TopicComparisonUpdate, ComparisonUpdateEvent{
		QueryID:   query.ID,
		Status:    comp.Status,
		Responses: comp.Responses,
	})

	return comp
}

// runModel drives one model to a terminal state: attempt, classify,
// retry transient failures with jittered exponential backoff.
func (e *Engine) runModel(ctx context.Context, query *Query, model string) ResponseAttempt {
	provider, err := e.registry.Get(model)
	if err != nil {
		// Model set was validated at submit; a miss here means the
		// registry changed underneath us.
		return ResponseAttempt{
			QueryID:       query.ID,
			Model:         model,
			AttemptNumber: 1,
			Status:        AttemptFailed,
			ErrorKind:     llm.ErrKindUnknown,
			Error:         err.Error(),
		}
	}

	req := llm.InvokeRequest{
		Prompt:       query.Prompt,
		SystemPrompt: query.Parameters.SystemPrompt,
		MaxTokens:    query.Parameters.MaxTokens,
		Temperature:  query.Parameters.Temperature,
		Model:        model,
	}

	var last ResponseAttempt
	for attemptNum := 1; attemptNum <= e.cfg.MaxAttempts; attemptNum++ {
		last = e.invokeOnce(ctx, provider, req, query.ID, model, attemptNum)

		// Every attempt is logged; only the last is canonical.
		if err := e.store.AppendAttempt(context.Background(), &last); err != nil {
			e.log.Warn(query.OwnerID, query.ID, "failed to log attempt", map[string]interface{}{
				"model": model, "error": err.Error(),
			})
		}

		if last.Status == AttemptSucceeded {
			return last
		}

		// Auth and provider-side throttling are not transient; the
		// overall deadline expiring ends the task either way.
		if !retryableKind(last.ErrorKind) || ctx.Err() != nil {
			return last
		}
		if attemptNum == e.cfg.MaxAttempts {
			return last
		}

		delay := backoffDelay(e.cfg.BaseBackoff, e.cfg.MaxBackoff, attemptNum)
		select {
		case <-ctx.Done():
			last.Status = AttemptTimedOut
			last.ErrorKind = llm.ErrKindTimeout
			last.Error = "query deadline exceeded during backoff"
			return last
		case <-time.After(delay):
		}
	}
	return last
}

// invokeOnce performs a single adapter call under the attempt deadline.
func (e *Engine) invokeOnce(ctx context.Context, provider llm.Provider, req llm.InvokeRequest, queryID, model string, attemptNum int) ResponseAttempt {
	attempt := ResponseAttempt{
		QueryID:       queryID,
		Model:         model,
		AttemptNumber: attemptNum,
		Status:        AttemptPending,
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := provider.Invoke(attemptCtx, req)
	attempt.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		kind := llm.ErrKindUnknown
		var adapterErr *llm.AdapterError
		if errors.As(err, &adapterErr) {
			kind = adapterErr.Kind
		}
		// An attempt cut short by the overall deadline is a timeout
		// regardless of how the adapter classified the cancellation.
		if ctx.Err() != nil {
			kind = llm.ErrKindTimeout
		}

		attempt.ErrorKind = kind
		attempt.Error = err.Error()
		if kind == llm.ErrKindTimeout {
			attempt.Status = AttemptTimedOut
		} else {
			attempt.Status = AttemptFailed
		}

		promProviderCalls.WithLabelValues(provider.Name(), "error").Inc()
		return attempt
	}

	attempt.Status = AttemptSucceeded
	attempt.Content = result.Content
	attempt.Usage = result.Usage
	attempt.CostUSD = result.CostUSD

	promProviderCalls.WithLabelValues(provider.Name(), "success").Inc()
	promProviderLatency.WithLabelValues(provider.Name()).Observe(float64(attempt.LatencyMs))
	return attempt
}

// publishProgress emits query_update after a per-model terminal event.
func (e *Engine) publishProgress(ctx context.Context, queryID string, responses []ResponseAttempt) {
	snap := e.tracker.Snapshot(queryID)
	if snap == nil {
		return
	}

	e.publisher.Notify(ctx, TopicQueryUpdate, QueryUpdateEvent{
		QueryID:             queryID,
		Progress:            snap.Progress,
		EstimatedCompletion: snap.EstimatedCompletion,
	})
	e.publisher.Notify(ctx, TopicComparisonUpdate, ComparisonUpdateEvent{
		QueryID:   queryID,
		Status:    StatusProcessing,
		Responses: responses,
	})
}

// terminalStatus reduces per-model outcomes to the comparison status:
// every model succeeded -> completed, some -> partial_completion,
// none -> failed.
func terminalStatus(results []ResponseAttempt) ComparisonStatus {
	succeeded := 0
	for _, r := range results {
		if r.Status == AttemptSucceeded {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results) && len(results) > 0:
		return StatusCompleted
	case succeeded > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// computeMetrics scores the succeeded subset of the response set.
func computeMetrics(results []ResponseAttempt) *ComparisonMetrics {
	succeeded := make([]scoring.Response, 0, len(results))
	for _, r := range results {
		if r.Status == AttemptSucceeded {
			succeeded = append(succeeded, scoring.Response{
				Model:   r.Model,
				Content: r.Content,
				Latency: time.Duration(r.LatencyMs) * time.Millisecond,
			})
		}
	}

	m := scoring.Compute(succeeded)
	return &ComparisonMetrics{
		Semantic:  m.Semantic,
		Length:    m.Length,
		Sentiment: m.Sentiment,
		Speed:     m.Speed,
	}
}

// retryableKind mirrors the adapter taxonomy: only timeouts and
// unavailability are transient.
func retryableKind(kind llm.ErrorKind) bool {
	return kind == llm.ErrKindTimeout || kind == llm.ErrKindUnavailable
}

// backoffDelay computes base*2^(attempt-1) capped at max, with up to 25%
// jitter to avoid synchronized retries across models.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	if delay > max {
		delay = max
	}
	jitter := time.Duration(mathRand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
