// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package store persists comparisons, attempt logs and usage records.
// PostgresStore is the production implementation; MemoryStore backs tests
// and single-node development.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"modelarena/core/orchestrator"
	"modelarena/core/orchestrator/cost"
)

// PostgresStore implements orchestrator.Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements orchestrator.Store
var _ orchestrator.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS comparisons (
			query_id     TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			responses    JSONB NOT NULL DEFAULT '[]',
			metrics      JSONB,
			created_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS response_attempts (
			id             BIGSERIAL PRIMARY KEY,
			query_id       TEXT NOT NULL,
			model          TEXT NOT NULL,
			attempt_number INT NOT NULL,
			status         TEXT NOT NULL,
			cost_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_ms     BIGINT NOT NULL DEFAULT 0,
			error_kind     TEXT,
			error_message  TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_response_attempts_query ON response_attempts (query_id)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id         BIGSERIAL PRIMARY KEY,
			query_id   TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			group_id   TEXT,
			provider   TEXT NOT NULL,
			model      TEXT NOT NULL,
			tokens_in  INT NOT NULL,
			tokens_out INT NOT NULL,
			cost_usd   DOUBLE PRECISION NOT NULL,
			cached     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_user ON usage_records (user_id, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveComparison upserts a comparison keyed by query id.
func (s *PostgresStore) SaveComparison(ctx context.Context, c *orchestrator.Comparison) error {
	if c == nil || c.QueryID == "" {
		return fmt.Errorf("invalid comparison")
	}

	responses, err := json.Marshal(c.Responses)
	if err != nil {
		return fmt.Errorf("failed to marshal responses: %w", err)
	}

	var metrics []byte
	if c.Metrics != nil {
		metrics, err = json.Marshal(c.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}
	}

	query := `
		INSERT INTO comparisons (query_id, status, responses, metrics, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (query_id) DO UPDATE SET
			status = EXCLUDED.status,
			responses = EXCLUDED.responses,
			metrics = EXCLUDED.metrics,
			completed_at = EXCLUDED.completed_at`

	_, err = s.db.ExecContext(ctx, query,
		c.QueryID, string(c.Status), responses, nullableBytes(metrics), c.CreatedAt, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save comparison: %w", err)
	}
	return nil
}

// LoadComparison retrieves a comparison by query id.
func (s *PostgresStore) LoadComparison(ctx context.Context, queryID string) (*orchestrator.Comparison, error) {
	query := `
		SELECT query_id, status, responses, metrics, created_at, completed_at
		FROM comparisons
		WHERE query_id = $1`

	c := &orchestrator.Comparison{}
	var status string
	var responses []byte
	var metrics []byte
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, queryID).Scan(
		&c.QueryID, &status, &responses, &metrics, &c.CreatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, orchestrator.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comparison: %w", err)
	}

	c.Status = orchestrator.ComparisonStatus(status)
	if err := json.Unmarshal(responses, &c.Responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal responses: %w", err)
	}
	if len(metrics) > 0 {
		c.Metrics = &orchestrator.ComparisonMetrics{}
		if err := json.Unmarshal(metrics, c.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

// AppendAttempt logs one response attempt.
func (s *PostgresStore) AppendAttempt(ctx context.Context, attempt *orchestrator.ResponseAttempt) error {
	if attempt == nil {
		return fmt.Errorf("invalid attempt")
	}

	query := `
		INSERT INTO response_attempts (query_id, model, attempt_number, status, cost_usd, latency_ms, error_kind, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		attempt.QueryID, attempt.Model, attempt.AttemptNumber, string(attempt.Status),
		attempt.CostUSD, attempt.LatencyMs,
		nullableString(string(attempt.ErrorKind)), nullableString(attempt.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// AppendUsage logs one settled usage record.
func (s *PostgresStore) AppendUsage(ctx context.Context, record *cost.UsageRecord) error {
	if record == nil {
		return fmt.Errorf("invalid usage record")
	}

	query := `
		INSERT INTO usage_records (query_id, user_id, group_id, provider, model, tokens_in, tokens_out, cost_usd, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		record.QueryID, record.UserID, nullableString(record.GroupID),
		record.Provider, record.Model, record.TokensIn, record.TokensOut,
		record.CostUSD, record.Cached, record.Timestamp,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// UserSpend sums settled usage for a user since the given time. A zero
// since means all time.
func (s *PostgresStore) UserSpend(ctx context.Context, userID string, since time.Time) (float64, error) {
	window := sql.NullTime{Time: since, Valid: !since.IsZero()}
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE user_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)`

	var total float64
	if err := s.db.QueryRowContext(ctx, query, userID, window).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return total, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
