// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the provider adapter contract used by the comparison
// engine. Every AI backend is wrapped in a Provider that accepts a uniform
// request, honors the caller's deadline, and normalizes its native error
// taxonomy into a closed set of error kinds at the adapter edge.
package llm

import (
	"fmt"
	"time"
)

// InvokeRequest encapsulates all parameters for a single model invocation.
// This is the unified request type used across all adapters.
type InvokeRequest struct {
	// Prompt is the user's input text.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the maximum number of tokens in the response.
	// If 0, adapter defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Negative means unset.
	Temperature float64 `json:"temperature,omitempty"`

	// Model overrides the adapter's default model identifier.
	Model string `json:"model,omitempty"`

	// StopSequences are strings that cause generation to stop.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// InvokeResult contains the outcome of a successful model invocation.
type InvokeResult struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// CostUSD is the actual cost of the call, derived from usage.
	CostUSD float64 `json:"cost_usd"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`
}

// UsageStats tracks token usage for billing and scoring.
type UsageStats struct {
	// PromptTokens is the number of tokens in the input.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens generated.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`
}

// CostEstimate provides a conservative pre-dispatch cost estimate.
type CostEstimate struct {
	// InputCostPer1K is the cost per 1000 input tokens.
	InputCostPer1K float64 `json:"input_cost_per_1k"`

	// OutputCostPer1K is the cost per 1000 output tokens.
	OutputCostPer1K float64 `json:"output_cost_per_1k"`

	// EstimatedInputTokens is the estimated input token count.
	EstimatedInputTokens int `json:"estimated_input_tokens"`

	// EstimatedOutputTokens is the estimated output token count.
	// This is the request's max tokens, not a prediction.
	EstimatedOutputTokens int `json:"estimated_output_tokens"`

	// TotalEstimate is the total estimated cost in USD.
	TotalEstimate float64 `json:"total_estimate"`
}

// ErrorKind classifies adapter failures. The set is closed: every adapter
// maps its backend's native errors into exactly one of these kinds, so the
// engine's retry policy never inspects provider-specific error text.
type ErrorKind string

const (
	// ErrKindTimeout indicates the call exceeded its deadline.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindRateLimited indicates the backend throttled the call.
	ErrKindRateLimited ErrorKind = "rate_limited"

	// ErrKindAuthInvalid indicates rejected credentials.
	ErrKindAuthInvalid ErrorKind = "auth_invalid"

	// ErrKindUnavailable indicates the backend is down or overloaded.
	ErrKindUnavailable ErrorKind = "unavailable"

	// ErrKindUnknown covers everything the adapter could not classify.
	ErrKindUnknown ErrorKind = "unknown"
)

// AdapterError represents a classified failure from a provider adapter.
type AdapterError struct {
	// Provider is the name of the adapter that returned the error.
	Provider string `json:"provider"`

	// Kind is the closed-set classification of the failure.
	Kind ErrorKind `json:"kind"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s adapter error (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s adapter error (%s): %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is transient. Rate-limited and
// auth failures from the backend are never retried by the engine.
func (e *AdapterError) Retryable() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindUnavailable:
		return true
	default:
		return false
	}
}

// NewAdapterError creates a classified adapter error.
func NewAdapterError(provider string, kind ErrorKind, message string) *AdapterError {
	return &AdapterError{Provider: provider, Kind: kind, Message: message}
}

// ClassifyStatus maps an HTTP status code to an error kind. Adapters use
// this at the response edge so classification happens exactly once.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuthInvalid
	case status == 429:
		return ErrKindRateLimited
	case status == 408 || status == 504:
		return ErrKindTimeout
	case status >= 500:
		return ErrKindUnavailable
	default:
		return ErrKindUnknown
	}
}

// EstimatePromptTokens approximates the token count of a prompt for cost
// reservation. Four characters per token is the conservative rule of thumb
// used across adapters; actual usage reconciles the difference at settle.
func EstimatePromptTokens(prompt, systemPrompt string) int {
	chars := len(prompt) + len(systemPrompt)
	tokens := chars / 4
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
