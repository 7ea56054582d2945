// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides fixed-window admission control backed by
// Redis. Counters are incremented before the limit is checked and are not
// rolled back on rejection; this tolerates bursts of up to twice the
// nominal rate at window boundaries, a documented trade-off in exchange
// for a single atomic increment per admission.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Scope identifies which admission rule rejected a request.
type Scope string

const (
	// ScopeUser is the per-user query rate.
	ScopeUser Scope = "user"

	// ScopeGroup is the per-group query rate (larger limit, longer window).
	ScopeGroup Scope = "group"
)

// Rule is a fixed-window limit for one scope.
type Rule struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// DefaultUserRule allows 10 queries per user per minute.
var DefaultUserRule = Rule{Limit: 10, Window: time.Minute}

// DefaultGroupRule allows 100 queries per group per five minutes.
var DefaultGroupRule = Rule{Limit: 100, Window: 5 * time.Minute}

// LimitExceededError reports an admission rejection.
type LimitExceededError struct {
	Scope      Scope         `json:"scope"`
	Subject    string        `json:"subject"`
	Limit      int           `json:"limit"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s %q: limit %d, retry after %s",
		e.Scope, e.Subject, e.Limit, e.RetryAfter)
}

// Limiter performs fixed-window admission checks against Redis.
type Limiter struct {
	client *redis.Client
	rules  map[Scope]Rule
}

// New creates a limiter with the given per-scope rules. Missing scopes
// fall back to the package defaults.
func New(client *redis.Client, rules map[Scope]Rule) *Limiter {
	merged := map[Scope]Rule{
		ScopeUser:  DefaultUserRule,
		ScopeGroup: DefaultGroupRule,
	}
	for scope, rule := range rules {
		merged[scope] = rule
	}
	return &Limiter{client: client, rules: merged}
}

// Allow admits or rejects one request for the subject under the scope's
// rule. The counter key's TTL equals the window length, so windows expire
// naturally. A Redis failure is returned as-is: admission that cannot be
// verified fails the request rather than silently admitting it.
func (l *Limiter) Allow(ctx context.Context, scope Scope, subject string) error {
	rule, ok := l.rules[scope]
	if !ok {
		return fmt.Errorf("no rate limit rule for scope %q", scope)
	}

	key := l.key(scope, subject)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limit check for %s %q failed: %w", scope, subject, err)
	}

	// First hit in a window starts its TTL. If the process dies between
	// INCR and EXPIRE the key would never expire, so a missing TTL is
	// repaired on any later hit.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			return fmt.Errorf("rate limit window for %s %q failed: %w", scope, subject, err)
		}
	} else {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err == nil && ttl < 0 {
			_ = l.client.Expire(ctx, key, rule.Window).Err()
		}
	}

	if count > int64(rule.Limit) {
		retryAfter := rule.Window
		if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return &LimitExceededError{
			Scope:      scope,
			Subject:    subject,
			Limit:      rule.Limit,
			RetryAfter: retryAfter,
		}
	}

	return nil
}

// Usage returns the current window's count for a subject.
func (l *Limiter) Usage(ctx context.Context, scope Scope, subject string) (int64, error) {
	count, err := l.client.Get(ctx, l.key(scope, subject)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit usage: %w", err)
	}
	return count, nil
}

// Reset removes the subject's current window (admin operation).
func (l *Limiter) Reset(ctx context.Context, scope Scope, subject string) error {
	if err := l.client.Del(ctx, l.key(scope, subject)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

func (l *Limiter) key(scope Scope, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, subject)
}
