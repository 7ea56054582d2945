// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the request-fingerprint cache with in-flight
// deduplication. Exactly one caller per fingerprint wins computation
// rights; concurrent identical requests wait for the winner's published
// result instead of fanning out their own provider calls.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Default cache settings.
const (
	// DefaultResultTTL bounds staleness and memory growth of hits.
	DefaultResultTTL = 10 * time.Minute

	// DefaultReserveTTL is the dedup timeout: if the reservation holder
	// has not published within this window its marker expires and a
	// waiter may re-reserve, so a crashed holder cannot starve waiters.
	DefaultReserveTTL = 60 * time.Second

	// DefaultPollInterval is how often waiters re-check the entry.
	DefaultPollInterval = 100 * time.Millisecond
)

// Entry value prefixes. A key holds either an in-flight marker or a
// published query id, never both.
const (
	inflightPrefix = "inflight:"
	donePrefix     = "done:"
)

// Sentinel errors for cache operations.
var (
	// ErrNotReserved indicates a publish/abandon with a token that no
	// longer holds the reservation (expired or already transitioned).
	ErrNotReserved = errors.New("reservation no longer held")

	// ErrWaitExpired indicates an in-flight wait exceeded the dedup
	// timeout without a published result. The caller should retry
	// LookupOrReserve and may win the reservation itself.
	ErrWaitExpired = errors.New("in-flight wait expired")
)

// Outcome discriminates LookupOrReserve results.
type Outcome int

const (
	// OutcomeHit means a completed result exists; QueryID is set.
	OutcomeHit Outcome = iota

	// OutcomeReserved means the caller won computation rights; Token is
	// set and the caller must Publish or Abandon it.
	OutcomeReserved

	// OutcomeInFlight means another caller holds the reservation; Wait
	// blocks until its result is published.
	OutcomeInFlight
)

// Lookup is the result of LookupOrReserve.
type Lookup struct {
	Outcome Outcome

	// QueryID is the cached query id (OutcomeHit only).
	QueryID string

	// Token proves reservation ownership (OutcomeReserved only).
	Token string

	// Wait blocks until the reservation holder publishes, the holder's
	// reservation expires, or ctx is done (OutcomeInFlight only).
	Wait func(ctx context.Context) (string, error)
}

// Cache is the Redis-backed fingerprint cache.
type Cache struct {
	client       *redis.Client
	resultTTL    time.Duration
	reserveTTL   time.Duration
	pollInterval time.Duration
}

// Option configures the cache.
type Option func(*Cache)

// WithResultTTL sets the TTL of published results.
func WithResultTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.resultTTL = d
	}
}

// WithReserveTTL sets the dedup timeout for in-flight reservations.
func WithReserveTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.reserveTTL = d
	}
}

// WithPollInterval sets the waiter re-check interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.pollInterval = d
	}
}

// New creates a fingerprint cache.
func New(client *redis.Client, opts ...Option) *Cache {
	c := &Cache{
		client:       client,
		resultTTL:    DefaultResultTTL,
		reserveTTL:   DefaultReserveTTL,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LookupOrReserve returns a cached result, grants computation rights, or
// hands back a wait handle on another caller's in-flight computation.
// SetNX makes the reserve atomic: concurrent identical requests cannot
// both win.
func (c *Cache) LookupOrReserve(ctx context.Context, fingerprint string) (*Lookup, error) {
	key := c.key(fingerprint)
	token := uuid.New().String()

	// Fast path: a published result.
	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if queryID, ok := strings.CutPrefix(val, donePrefix); ok {
			return &Lookup{Outcome: OutcomeHit, QueryID: queryID}, nil
		}
		// In-flight marker already present.
		return c.inFlight(key), nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	ok, err := c.client.SetNX(ctx, key, inflightPrefix+token, c.reserveTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("cache reservation failed: %w", err)
	}
	if ok {
		return &Lookup{Outcome: OutcomeReserved, Token: token}, nil
	}

	// Lost the race: someone else reserved (or published) between the GET
	// and the SETNX.
	val, err = c.client.Get(ctx, key).Result()
	if err == nil {
		if queryID, found := strings.CutPrefix(val, donePrefix); found {
			return &Lookup{Outcome: OutcomeHit, QueryID: queryID}, nil
		}
	}
	return c.inFlight(key), nil
}

// inFlight builds a wait handle that polls until the entry transitions to
// done, disappears (holder abandoned or reservation expired), or the
// dedup timeout elapses. The wait has its own bound so unrelated waiters'
// lifetimes are not coupled to any single query's deadline.
func (c *Cache) inFlight(key string) *Lookup {
	wait := func(ctx context.Context) (string, error) {
		deadline := time.NewTimer(c.reserveTTL)
		defer deadline.Stop()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-deadline.C:
				return "", ErrWaitExpired
			case <-ticker.C:
				val, err := c.client.Get(ctx, key).Result()
				if err == redis.Nil {
					// Marker expired or was abandoned; the waiter should
					// re-reserve rather than wait on a dead holder.
					return "", ErrWaitExpired
				}
				if err != nil {
					return "", fmt.Errorf("cache wait failed: %w", err)
				}
				if queryID, ok := strings.CutPrefix(val, donePrefix); ok {
					return queryID, nil
				}
			}
		}
	}
	return &Lookup{Outcome: OutcomeInFlight, Wait: wait}
}

// Publish transitions Reserved -> Hit. Only the token that holds the
// reservation may publish; the check-and-set runs under WATCH so a
// expired-and-re-reserved key cannot be overwritten by the stale holder.
func (c *Cache) Publish(ctx context.Context, fingerprint, token, queryID string) error {
	key := c.key(fingerprint)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotReserved
		}
		if err != nil {
			return err
		}
		if val != inflightPrefix+token {
			return ErrNotReserved
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, donePrefix+queryID, c.resultTTL)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, ErrNotReserved) {
		return ErrNotReserved
	}
	if err != nil {
		return fmt.Errorf("cache publish failed: %w", err)
	}
	return nil
}

// Abandon removes a reservation after a failed computation so later
// callers are not blocked until the marker's TTL.
func (c *Cache) Abandon(ctx context.Context, fingerprint, token string) error {
	key := c.key(fingerprint)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if val != inflightPrefix+token {
			// Someone else owns the key now; leave it alone.
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	if err != nil {
		return fmt.Errorf("cache abandon failed: %w", err)
	}
	return nil
}

// Invalidate removes an entry regardless of state (admin operation).
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, c.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("cache invalidate failed: %w", err)
	}
	return nil
}

func (c *Cache) key(fingerprint string) string {
	return "fpcache:" + fingerprint
}
