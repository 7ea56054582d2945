// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"modelarena/core/shared/logger"
)

// Event topics published during processing.
const (
	// TopicQueryUpdate carries QueryUpdateEvent payloads.
	TopicQueryUpdate = "query_update"

	// TopicComparisonUpdate carries ComparisonUpdateEvent payloads.
	TopicComparisonUpdate = "comparison_update"
)

// QueryUpdateEvent is published after every per-model terminal event.
type QueryUpdateEvent struct {
	QueryID             string     `json:"query_id"`
	Progress            float64    `json:"progress"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// ComparisonUpdateEvent is published on per-model terminal events and on
// final completion, carrying the current response set.
type ComparisonUpdateEvent struct {
	QueryID   string            `json:"query_id"`
	Status    ComparisonStatus  `json:"status"`
	Responses []ResponseAttempt `json:"responses"`
}

// Publisher pushes progress and result events to external transports.
// The engine never knows which transport backs it. Implementations must
// tolerate being called concurrently from per-model tasks.
type Publisher interface {
	Notify(ctx context.Context, topic string, event interface{})
}

// LogPublisher writes events to the structured log. It is the fallback
// for deployments without a push transport and the default in tests.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.New("events")
	}
	return &LogPublisher{log: log}
}

// Notify logs the event.
func (p *LogPublisher) Notify(ctx context.Context, topic string, event interface{}) {
	p.log.Info("", "", "event published", map[string]interface{}{
		"topic": topic,
		"event": event,
	})
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Notify discards the event.
func (NopPublisher) Notify(ctx context.Context, topic string, event interface{}) {}
