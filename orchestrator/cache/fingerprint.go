// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Parameters are the request fields that affect the generated responses.
// Two requests with equal fingerprint inputs are interchangeable.
type Parameters struct {
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
}

// Fingerprint computes the stable hash of a request's semantically
// relevant fields: prompt, normalized parameters, and the sorted model
// set. Model order does not change the result.
func Fingerprint(prompt string, params Parameters, models []string) string {
	sorted := make([]string, len(models))
	copy(sorted, models)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteByte(0)
	fmt.Fprintf(&b, "%.4f", params.Temperature)
	b.WriteByte(0)
	fmt.Fprintf(&b, "%d", params.MaxTokens)
	b.WriteByte(0)
	b.WriteString(params.SystemPrompt)
	b.WriteByte(0)
	b.WriteString(strings.Join(sorted, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
