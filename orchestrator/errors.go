// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for lookup operations.
var (
	// ErrNotFound indicates an unknown query id.
	ErrNotFound = errors.New("query not found")

	// ErrNotReady indicates the comparison is still being computed.
	ErrNotReady = errors.New("comparison not ready")
)

// ValidationError reports bad input on submit. It is surfaced verbatim to
// the caller and never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// SystemError reports that a backing service (cache, store, Redis) was
// unavailable. The submit fails outright with nothing partially committed.
type SystemError struct {
	Op    string `json:"op"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	return fmt.Sprintf("system error during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SystemError) Unwrap() error {
	return e.Cause
}
