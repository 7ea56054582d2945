// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolarity(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"all positive", "good great excellent", 1},
		{"all negative", "bad poor terrible", -1},
		{"balanced", "good bad", 0},
		{"no lexicon hits", "the sky is blue today", 0},
		{"mostly positive", "good great excellent bad", 0.5},
		{"case insensitive", "GOOD Great", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, polarity(tt.content), 1e-9)
		})
	}
}
