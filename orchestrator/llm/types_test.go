// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, ErrKindAuthInvalid},
		{403, ErrKindAuthInvalid},
		{429, ErrKindRateLimited},
		{408, ErrKindTimeout},
		{504, ErrKindTimeout},
		{500, ErrKindUnavailable},
		{502, ErrKindUnavailable},
		{503, ErrKindUnavailable},
		{529, ErrKindUnavailable},
		{400, ErrKindUnknown},
		{404, ErrKindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestAdapterError_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindTimeout, true},
		{ErrKindUnavailable, true},
		{ErrKindRateLimited, false},
		{ErrKindAuthInvalid, false},
		{ErrKindUnknown, false},
	}
	for _, tt := range tests {
		err := NewAdapterError("test", tt.kind, "boom")
		assert.Equal(t, tt.want, err.Retryable(), "kind %s", tt.kind)
	}
}

func TestAdapterError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := &AdapterError{Provider: "test", Kind: ErrKindUnavailable, Message: "transport", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport")
}

func TestAdapterError_ErrorIncludesStatus(t *testing.T) {
	err := &AdapterError{Provider: "openai", Kind: ErrKindRateLimited, Message: "slow down", StatusCode: 429}
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate_limited")
}

func TestEstimatePromptTokens(t *testing.T) {
	assert.Equal(t, 1, EstimatePromptTokens("abc", ""))
	assert.Equal(t, 2, EstimatePromptTokens("abcdefgh", ""))
	assert.Equal(t, 4, EstimatePromptTokens("abcdefgh", "abcdefgh"))
	assert.Equal(t, 0, EstimatePromptTokens("", ""))
}
