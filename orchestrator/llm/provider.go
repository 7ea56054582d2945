// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
)

// Provider is the uniform adapter contract over one AI backend.
// Implementations must be safe for concurrent use and must honor the
// context deadline by cancelling the underlying call, not merely by
// returning early while the remote request continues.
type Provider interface {
	// Name returns the unique identifier for this adapter instance.
	// This is used for routing, logging, and metrics.
	Name() string

	// Model returns the model identifier this adapter serves by default.
	Model() string

	// Invoke performs one completion call. Failures are returned as
	// *AdapterError with a closed-set Kind; any other error type from an
	// adapter is a bug.
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)

	// HealthCheck verifies the backend is reachable and authenticated.
	// Implementations should complete within a few seconds.
	HealthCheck(ctx context.Context) error

	// EstimateCost returns a conservative pre-dispatch cost estimate
	// (max possible output tokens at the model's unit price).
	EstimateCost(req InvokeRequest) CostEstimate
}
