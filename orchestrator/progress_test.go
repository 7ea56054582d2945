// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_BeginAllPending(t *testing.T) {
	tr := NewProgressTracker()
	tr.Begin("q1", []string{"model-a", "model-b"})

	snap := tr.Snapshot("q1")
	require.NotNil(t, snap)
	assert.Equal(t, StatusQueued, snap.Status)
	assert.Equal(t, 0.0, snap.Progress)
	assert.Equal(t, AttemptPending, snap.PerModelStatus["model-a"])
	assert.Equal(t, AttemptPending, snap.PerModelStatus["model-b"])
	assert.Nil(t, snap.EstimatedCompletion)
}

func TestTracker_ProgressCountsTerminalModels(t *testing.T) {
	tr := NewProgressTracker()
	tr.Begin("q1", []string{"a", "b", "c", "d"})

	tr.RecordModelResult("q1", "a", AttemptSucceeded, 100*time.Millisecond)
	tr.RecordModelResult("q1", "b", AttemptFailed, 0)

	snap := tr.Snapshot("q1")
	require.NotNil(t, snap)
	assert.Equal(t, 0.5, snap.Progress)
}

func TestTracker_EstimateAppearsAfterFirstSuccess(t *testing.T) {
	tr := NewProgressTracker()
	tr.Begin("q1", []string{"a", "b"})

	require.Nil(t, tr.Snapshot("q1").EstimatedCompletion)

	tr.RecordModelResult("q1", "a", AttemptSucceeded, 200*time.Millisecond)

	snap := tr.Snapshot("q1")
	require.NotNil(t, snap.EstimatedCompletion)
	assert.True(t, snap.EstimatedCompletion.After(time.Now().Add(-time.Second)))
}

func TestTracker_NoEstimateWhenAllTerminal(t *testing.T) {
	tr := NewProgressTracker()
	tr.Begin("q1", []string{"a"})
	tr.RecordModelResult("q1", "a", AttemptSucceeded, 100*time.Millisecond)

	snap := tr.Snapshot("q1")
	assert.Equal(t, 1.0, snap.Progress)
	assert.Nil(t, snap.EstimatedCompletion)
}

func TestTracker_FailedLatencyExcludedFromEstimate(t *testing.T) {
	tr := NewProgressTracker()
	tr.Begin("q1", []string{"a", "b"})

	// Failures carry no useful latency signal.
	tr.RecordModelResult("q1", "a", AttemptFailed, time.Hour)

	snap := tr.Snapshot("q1")
	assert.Nil(t, snap.EstimatedCompletion)
}

func TestTracker_UnknownQuery(t *testing.T) {
	tr := NewProgressTracker()
	assert.Nil(t, tr.Snapshot("missing"))

	// Writes against unknown queries are ignored, not panics.
	tr.SetStatus("missing", StatusProcessing)
	tr.RecordModelResult("missing", "a", AttemptSucceeded, time.Second)
}

func TestTracker_Forget(t *testing.T) {
	tr := NewProgressTracker()
	tr.Begin("q1", []string{"a"})
	require.NotNil(t, tr.Snapshot("q1"))

	tr.Forget("q1")
	assert.Nil(t, tr.Snapshot("q1"))
}

func TestMedianDuration(t *testing.T) {
	tests := []struct {
		name   string
		values []time.Duration
		want   time.Duration
	}{
		{"single", []time.Duration{time.Second}, time.Second},
		{"odd", []time.Duration{3 * time.Second, time.Second, 2 * time.Second}, 2 * time.Second},
		{"even", []time.Duration{time.Second, 3 * time.Second}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, medianDuration(tt.values))
		})
	}
}

func TestComparisonStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusPartial.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
