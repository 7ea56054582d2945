// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelarena/core/orchestrator"
	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func sampleComparison() *orchestrator.Comparison {
	completed := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	return &orchestrator.Comparison{
		QueryID: "query-1",
		Status:  orchestrator.StatusCompleted,
		Responses: []orchestrator.ResponseAttempt{
			{
				QueryID:       "query-1",
				Model:         "model-a",
				AttemptNumber: 1,
				Status:        orchestrator.AttemptSucceeded,
				Content:       "hello",
				Usage:         llm.UsageStats{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
				CostUSD:       0.01,
				LatencyMs:     420,
			},
		},
		Metrics:     &orchestrator.ComparisonMetrics{Semantic: 90, Length: 80, Sentiment: 100, Speed: 70},
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt: &completed,
	}
}

func TestSaveComparison_Upserts(t *testing.T) {
	s, mock := newMockStore(t)
	c := sampleComparison()

	mock.ExpectExec("INSERT INTO comparisons").
		WithArgs(c.QueryID, string(c.Status), sqlmock.AnyArg(), sqlmock.AnyArg(), c.CreatedAt, c.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveComparison(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveComparison_NilMetricsStoredAsNull(t *testing.T) {
	s, mock := newMockStore(t)
	c := sampleComparison()
	c.Metrics = nil

	mock.ExpectExec("INSERT INTO comparisons").
		WithArgs(c.QueryID, string(c.Status), sqlmock.AnyArg(), nil, c.CreatedAt, c.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveComparison(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveComparison_InvalidInput(t *testing.T) {
	s, _ := newMockStore(t)
	assert.Error(t, s.SaveComparison(context.Background(), nil))
	assert.Error(t, s.SaveComparison(context.Background(), &orchestrator.Comparison{}))
}

func TestLoadComparison_RoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	want := sampleComparison()

	responses, err := json.Marshal(want.Responses)
	require.NoError(t, err)
	metrics, err := json.Marshal(want.Metrics)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"query_id", "status", "responses", "metrics", "created_at", "completed_at"}).
		AddRow(want.QueryID, string(want.Status), responses, metrics, want.CreatedAt, *want.CompletedAt)

	mock.ExpectQuery("SELECT query_id, status, responses, metrics, created_at, completed_at").
		WithArgs("query-1").
		WillReturnRows(rows)

	got, err := s.LoadComparison(context.Background(), "query-1")
	require.NoError(t, err)

	assert.Equal(t, want.QueryID, got.QueryID)
	assert.Equal(t, want.Status, got.Status)
	require.Len(t, got.Responses, 1)
	assert.Equal(t, "model-a", got.Responses[0].Model)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, want.Metrics.Semantic, got.Metrics.Semantic)
	require.NotNil(t, got.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadComparison_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT query_id, status, responses").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"query_id"}))

	_, err := s.LoadComparison(context.Background(), "missing")
	assert.ErrorIs(t, err, orchestrator.ErrNotFound)
}

func TestAppendAttempt(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO response_attempts").
		WithArgs("query-1", "model-a", 2, "failed", 0.0, int64(1500), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AppendAttempt(context.Background(), &orchestrator.ResponseAttempt{
		QueryID:       "query-1",
		Model:         "model-a",
		AttemptNumber: 2,
		Status:        orchestrator.AttemptFailed,
		LatencyMs:     1500,
		ErrorKind:     llm.ErrKindUnavailable,
		Error:         "overloaded",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendUsage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	record := &cost.UsageRecord{
		QueryID:   "query-1",
		UserID:    "alice",
		Provider:  "anthropic",
		Model:     "model-a",
		TokensIn:  10,
		TokensOut: 20,
		CostUSD:   0.01,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, s.AppendUsage(context.Background(), record))
	assert.Equal(t, int64(7), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserSpend_AllTime(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(cost_usd\\), 0\\)").
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1.25))

	total, err := s.UserSpend(context.Background(), "alice", time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 1.25, total, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserSpend_Bounded(t *testing.T) {
	s, mock := newMockStore(t)

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(cost_usd\\), 0\\)").
		WithArgs("alice", since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0.5))

	total, err := s.UserSpend(context.Background(), "alice", since)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, total, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}
