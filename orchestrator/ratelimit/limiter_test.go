// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rules map[Scope]Rule) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, rules), mr
}

func TestAllow_UnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{
		ScopeUser: {Limit: 3, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	}
}

func TestAllow_RejectsOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{
		ScopeUser: {Limit: 3, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	}

	err := l.Allow(ctx, ScopeUser, "alice")
	require.Error(t, err)

	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ScopeUser, limitErr.Scope)
	assert.Equal(t, "alice", limitErr.Subject)
	assert.Equal(t, 3, limitErr.Limit)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
}

func TestAllow_SubjectsIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{
		ScopeUser: {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	require.Error(t, l.Allow(ctx, ScopeUser, "alice"))

	// Bob's window is untouched by Alice's rejections.
	assert.NoError(t, l.Allow(ctx, ScopeUser, "bob"))
}

func TestAllow_ScopesIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{
		ScopeUser:  {Limit: 1, Window: time.Minute},
		ScopeGroup: {Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, ScopeUser, "acme"))
	require.Error(t, l.Allow(ctx, ScopeUser, "acme"))

	// Same subject under the group scope has its own counter.
	assert.NoError(t, l.Allow(ctx, ScopeGroup, "acme"))
	assert.NoError(t, l.Allow(ctx, ScopeGroup, "acme"))
	assert.Error(t, l.Allow(ctx, ScopeGroup, "acme"))
}

func TestAllow_WindowExpiryResets(t *testing.T) {
	l, mr := newTestLimiter(t, map[Scope]Rule{
		ScopeUser: {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	require.Error(t, l.Allow(ctx, ScopeUser, "alice"))

	mr.FastForward(61 * time.Second)

	assert.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
}

func TestAllow_RejectedRequestsStillCount(t *testing.T) {
	// Increment-then-check is deliberate: rejected requests consume the
	// window too, so hammering while limited extends the rejection.
	l, _ := newTestLimiter(t, map[Scope]Rule{
		ScopeUser: {Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	require.Error(t, l.Allow(ctx, ScopeUser, "alice"))

	count, err := l.Usage(ctx, ScopeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAllow_RedisDownFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := New(client, nil)

	mr.Close()

	err := l.Allow(context.Background(), ScopeUser, "alice")
	require.Error(t, err)

	var limitErr *LimitExceededError
	assert.False(t, errors.As(err, &limitErr), "infrastructure failure must not masquerade as a limit rejection")
}

func TestUsage_EmptyWindow(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	count, err := l.Usage(context.Background(), ScopeUser, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestReset_ClearsWindow(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{
		ScopeUser: {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	require.Error(t, l.Allow(ctx, ScopeUser, "alice"))

	require.NoError(t, l.Reset(ctx, ScopeUser, "alice"))
	assert.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
}

func TestDefaultRules(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	// Default user rule admits 10 per window.
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(ctx, ScopeUser, "alice"))
	}
	assert.Error(t, l.Allow(ctx, ScopeUser, "alice"))
}
