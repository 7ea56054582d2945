// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"modelarena/core/orchestrator/cache"
	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
	"modelarena/core/orchestrator/ratelimit"
	"modelarena/core/shared/logger"
)

// MaxPromptLength bounds submitted prompts.
const MaxPromptLength = 32768

// SubmitRequest is one comparison submission.
type SubmitRequest struct {
	Prompt     string     `json:"prompt"`
	Parameters Parameters `json:"parameters"`
	ModelSet   []string   `json:"model_set"`
	OwnerID    string     `json:"-"`
	GroupID    string     `json:"-"`
}

// SubmitResult reports where the submission landed.
type SubmitResult struct {
	// QueryID identifies the comparison, freshly launched or cached.
	QueryID string `json:"query_id"`

	// Cached is true when the result was served by fingerprint dedup
	// instead of new provider calls.
	Cached bool `json:"cached"`
}

// Orchestrator is the comparison service facade. Submission runs the
// admission pipeline in order: validate, fingerprint dedup, rate limits,
// budget reservation, then async fan-out.
type Orchestrator struct {
	engine    *Engine
	registry  *llm.Registry
	limiter   *ratelimit.Limiter
	ledger    *cost.Ledger
	cache     *cache.Cache
	tracker   *ProgressTracker
	store     Store
	publisher Publisher
	log       *logger.Logger
}

// New wires the orchestrator from its collaborators.
func New(registry *llm.Registry, limiter *ratelimit.Limiter, ledger *cost.Ledger, fpCache *cache.Cache, store Store, publisher Publisher, engineCfg EngineConfig) *Orchestrator {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	tracker := NewProgressTracker()
	return &Orchestrator{
		engine:    NewEngine(registry, tracker, store, publisher, engineCfg),
		registry:  registry,
		limiter:   limiter,
		ledger:    ledger,
		cache:     fpCache,
		tracker:   tracker,
		store:     store,
		publisher: publisher,
		log:       logger.New("orchestrator"),
	}
}

// Submit admits one comparison request. A cache hit or successful
// attachment to an identical in-flight query returns that query's id with
// Cached set; otherwise the fan-out is launched asynchronously and the new
// query id is returned immediately.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	fp := cache.Fingerprint(req.Prompt, cache.Parameters{
		Temperature:  req.Parameters.Temperature,
		MaxTokens:    req.Parameters.MaxTokens,
		SystemPrompt: req.Parameters.SystemPrompt,
	}, req.ModelSet)

	// Identical requests are answered from cache before any quota is
	// charged; dedup must not burn the caller's rate limit or budget.
	lookup, err := o.cache.LookupOrReserve(ctx, fp)
	if err != nil {
		return nil, &SystemError{Op: "cache lookup", Cause: err}
	}

	switch lookup.Outcome {
	case cache.OutcomeHit:
		promCacheEvents.WithLabelValues("hit").Inc()
		return o.serveCached(ctx, req, lookup.QueryID), nil

	case cache.OutcomeInFlight:
		promCacheEvents.WithLabelValues("inflight").Inc()
		return o.awaitInFlight(ctx, req, fp, lookup)

	case cache.OutcomeReserved:
		promCacheEvents.WithLabelValues("miss").Inc()
		return o.admit(ctx, req, fp, lookup.Token)

	default:
		return nil, &SystemError{Op: "cache lookup", Cause: errors.New("unknown cache outcome")}
	}
}

// serveCached answers from a previously computed comparison. A zero-cost
// usage record is appended so billing reports count dedup serves.
func (o *Orchestrator) serveCached(ctx context.Context, req *SubmitRequest, queryID string) *SubmitResult {
	record := &cost.UsageRecord{
		QueryID:   queryID,
		UserID:    req.OwnerID,
		GroupID:   req.GroupID,
		Cached:    true,
		Timestamp: time.Now().UTC(),
	}
	if err := o.store.AppendUsage(ctx, record); err != nil {
		o.log.Warn(req.OwnerID, queryID, "failed to append cached usage record", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return &SubmitResult{QueryID: queryID, Cached: true}
}

// awaitInFlight attaches to another caller's identical in-flight query.
// If the holder abandons or its reservation expires, this caller retries
// the lookup and may become the new holder.
func (o *Orchestrator) awaitInFlight(ctx context.Context, req *SubmitRequest, fp string, lookup *cache.Lookup) (*SubmitResult, error) {
	queryID, err := lookup.Wait(ctx)
	if err == nil {
		return o.serveCached(ctx, req, queryID), nil
	}
	if !errors.Is(err, cache.ErrWaitExpired) {
		return nil, &SystemError{Op: "cache wait", Cause: err}
	}

	// Holder died without publishing. One retry: this caller either wins
	// the new reservation or computes without dedup.
	retry, rerr := o.cache.LookupOrReserve(ctx, fp)
	if rerr != nil {
		return nil, &SystemError{Op: "cache lookup", Cause: rerr}
	}
	switch retry.Outcome {
	case cache.OutcomeHit:
		promCacheEvents.WithLabelValues("hit").Inc()
		return o.serveCached(ctx, req, retry.QueryID), nil
	case cache.OutcomeReserved:
		return o.admit(ctx, req, fp, retry.Token)
	default:
		return o.admit(ctx, req, fp, "")
	}
}

// admit runs rate limiting and budget reservation, then launches the
// fan-out. token, when non-empty, is the dedup reservation to publish or
// abandon.
func (o *Orchestrator) admit(ctx context.Context, req *SubmitRequest, fp, token string) (*SubmitResult, error) {
	abandon := func() {
		if token == "" {
			return
		}
		if err := o.cache.Abandon(context.Background(), fp, token); err != nil {
			o.log.Warn(req.OwnerID, "", "failed to abandon cache reservation", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := o.limiter.Allow(ctx, ratelimit.ScopeUser, req.OwnerID); err != nil {
		abandon()
		var limErr *ratelimit.LimitExceededError
		if errors.As(err, &limErr) {
			promRateLimitRejections.WithLabelValues(string(ratelimit.ScopeUser)).Inc()
			return nil, err
		}
		return nil, &SystemError{Op: "rate limit", Cause: err}
	}
	if req.GroupID != "" {
		if err := o.limiter.Allow(ctx, ratelimit.ScopeGroup, req.GroupID); err != nil {
			abandon()
			var limErr *ratelimit.LimitExceededError
			if errors.As(err, &limErr) {
				promRateLimitRejections.WithLabelValues(string(ratelimit.ScopeGroup)).Inc()
				return nil, err
			}
			return nil, &SystemError{Op: "rate limit", Cause: err}
		}
	}

	reservation, err := o.ledger.Reserve(ctx, req.OwnerID, o.estimateCost(req))
	if err != nil {
		abandon()
		var budgetErr *cost.BudgetExceededError
		if errors.As(err, &budgetErr) {
			promBudgetRejections.Inc()
			return nil, err
		}
		return nil, &SystemError{Op: "cost reserve", Cause: err}
	}

	query := &Query{
		ID:         uuid.New().String(),
		Prompt:     req.Prompt,
		Parameters: req.Parameters,
		ModelSet:   append([]string(nil), req.ModelSet...),
		OwnerID:    req.OwnerID,
		GroupID:    req.GroupID,
		CreatedAt:  time.Now().UTC(),
	}

	queued := &Comparison{
		QueryID:   query.ID,
		Status:    StatusQueued,
		CreatedAt: query.CreatedAt,
	}
	if err := o.store.SaveComparison(ctx, queued); err != nil {
		abandon()
		if rerr := o.ledger.Release(context.Background(), reservation); rerr != nil {
			o.log.ErrorWith(req.OwnerID, query.ID, "failed to release budget reservation", rerr, nil)
		}
		return nil, &SystemError{Op: "store save", Cause: err}
	}

	// The engine owns the tracker entry; until its Begin runs, Status is
	// served from the queued comparison just saved.
	go o.run(query, fp, token, reservation)

	return &SubmitResult{QueryID: query.ID, Cached: false}, nil
}

// run drives one query to its terminal state. It owns the dedup
// reservation and the budget reservation for the query's lifetime.
func (o *Orchestrator) run(query *Query, fp, token string, reservation *cost.Reservation) {
	start := time.Now()

	// The engine applies the query deadline itself; the background
	// context keeps settlement alive past it.
	ctx := context.Background()

	comp := o.engine.Execute(ctx, query)

	actualUSD := o.settle(ctx, query, comp, reservation)

	if err := o.store.SaveComparison(ctx, comp); err != nil {
		o.log.ErrorWith(query.OwnerID, query.ID, "failed to persist comparison", err, nil)
	}

	// Only comparisons with at least one response are worth serving to
	// identical future requests.
	if token != "" {
		if comp.Status == StatusFailed {
			if err := o.cache.Abandon(ctx, fp, token); err != nil {
				o.log.Warn(query.OwnerID, query.ID, "failed to abandon cache reservation", map[string]interface{}{
					"error": err.Error(),
				})
			}
		} else {
			if err := o.cache.Publish(ctx, fp, token, query.ID); err != nil {
				o.log.Warn(query.OwnerID, query.ID, "failed to publish cache entry", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}

	o.tracker.Forget(query.ID)

	promQueriesTotal.WithLabelValues(string(comp.Status)).Inc()
	promQueryDuration.WithLabelValues(string(comp.Status)).Observe(float64(time.Since(start).Milliseconds()))

	o.log.Info(query.OwnerID, query.ID, "comparison finished", map[string]interface{}{
		"status":      string(comp.Status),
		"models":      len(query.ModelSet),
		"cost_usd":    actualUSD,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// settle converts the budget reservation into actual spend and appends
// usage records for the succeeded attempts.
func (o *Orchestrator) settle(ctx context.Context, query *Query, comp *Comparison, reservation *cost.Reservation) float64 {
	var actualUSD float64
	for _, r := range comp.Responses {
		if r.Status != AttemptSucceeded {
			continue
		}
		actualUSD += r.CostUSD

		record := &cost.UsageRecord{
			QueryID:   query.ID,
			UserID:    query.OwnerID,
			GroupID:   query.GroupID,
			Provider:  o.providerName(r.Model),
			Model:     r.Model,
			TokensIn:  r.Usage.PromptTokens,
			TokensOut: r.Usage.CompletionTokens,
			CostUSD:   r.CostUSD,
			Timestamp: time.Now().UTC(),
		}
		if err := o.store.AppendUsage(ctx, record); err != nil {
			o.log.Warn(query.OwnerID, query.ID, "failed to append usage record", map[string]interface{}{
				"model": r.Model, "error": err.Error(),
			})
		}
	}

	if err := o.ledger.Settle(ctx, reservation, actualUSD); err != nil {
		o.log.ErrorWith(query.OwnerID, query.ID, "failed to settle budget reservation", err, map[string]interface{}{
			"actual_usd": actualUSD,
		})
	}
	return actualUSD
}

// Status reports live progress for a running query, falling back to the
// persisted comparison once the tracker has let go of it.
func (o *Orchestrator) Status(ctx context.Context, queryID string) (*ProgressSnapshot, error) {
	if snap := o.tracker.Snapshot(queryID); snap != nil {
		return snap, nil
	}

	comp, err := o.store.LoadComparison(ctx, queryID)
	if err != nil {
		return nil, err
	}

	snap := &ProgressSnapshot{
		QueryID:        comp.QueryID,
		Status:         comp.Status,
		PerModelStatus: make(map[string]AttemptStatus, len(comp.Responses)),
	}
	if comp.Status.Terminal() {
		snap.Progress = 1.0
	}
	for _, r := range comp.Responses {
		snap.PerModelStatus[r.Model] = r.Status
	}
	return snap, nil
}

// UsageSummary reports a user's settled spend alongside the live budget
// window.
type UsageSummary struct {
	UserID         string  `json:"user_id"`
	SpendUSD       float64 `json:"spend_usd"`
	WindowSpendUSD float64 `json:"window_spend_usd"`
	BudgetUSD      float64 `json:"budget_usd"`
}

// Usage sums a user's settled spend since the given time (zero means all
// time) together with the current budget window.
func (o *Orchestrator) Usage(ctx context.Context, userID string, since time.Time) (*UsageSummary, error) {
	total, err := o.store.UserSpend(ctx, userID, since)
	if err != nil {
		return nil, &SystemError{Op: "usage lookup", Cause: err}
	}
	window, err := o.ledger.Spent(ctx, userID)
	if err != nil {
		return nil, &SystemError{Op: "usage lookup", Cause: err}
	}
	return &UsageSummary{
		UserID:         userID,
		SpendUSD:       total,
		WindowSpendUSD: window,
		BudgetUSD:      o.ledger.Budget(),
	}, nil
}

// Result returns the terminal comparison, ErrNotReady while it is still
// computing, or ErrNotFound for an unknown id.
func (o *Orchestrator) Result(ctx context.Context, queryID string) (*Comparison, error) {
	comp, err := o.store.LoadComparison(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if !comp.Status.Terminal() {
		return nil, ErrNotReady
	}
	return comp, nil
}

// Registry exposes the provider registry for health reporting.
func (o *Orchestrator) Registry() *llm.Registry {
	return o.registry
}

func (o *Orchestrator) validate(req *SubmitRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "prompt must not be empty"}
	}
	if len(req.Prompt) > MaxPromptLength {
		return &ValidationError{Field: "prompt", Message: "prompt exceeds maximum length"}
	}
	if req.OwnerID == "" {
		return &ValidationError{Field: "owner_id", Message: "owner is required"}
	}
	if len(req.ModelSet) == 0 {
		return &ValidationError{Field: "model_set", Message: "at least one model is required"}
	}
	seen := make(map[string]bool, len(req.ModelSet))
	for _, model := range req.ModelSet {
		if seen[model] {
			return &ValidationError{Field: "model_set", Message: "duplicate model: " + model}
		}
		seen[model] = true
		if !o.registry.Has(model) {
			return &ValidationError{Field: "model_set", Message: "unknown model: " + model}
		}
	}
	if req.Parameters.Temperature < 0 || req.Parameters.Temperature > 2 {
		return &ValidationError{Field: "temperature", Message: "temperature must be between 0 and 2"}
	}
	if req.Parameters.MaxTokens < 0 {
		return &ValidationError{Field: "max_tokens", Message: "max_tokens must not be negative"}
	}
	return nil
}

// estimateCost sums the conservative pre-dispatch estimates across the
// model set.
func (o *Orchestrator) estimateCost(req *SubmitRequest) float64 {
	invoke := llm.InvokeRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.Parameters.SystemPrompt,
		MaxTokens:    req.Parameters.MaxTokens,
		Temperature:  req.Parameters.Temperature,
	}

	var total float64
	for _, model := range req.ModelSet {
		provider, err := o.registry.Get(model)
		if err != nil {
			continue
		}
		total += provider.EstimateCost(invoke).TotalEstimate
	}
	return total
}

// providerName resolves a model id back to its adapter name.
func (o *Orchestrator) providerName(model string) string {
	provider, err := o.registry.Get(model)
	if err != nil {
		return "unknown"
	}
	return provider.Name()
}
