// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package scoring derives comparison metrics from a completed response
// set. Compute is a pure function of its input: no state, no clock, no
// randomness, so recomputing over the same responses always yields
// identical metrics.
package scoring

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Response is one succeeded model response, reduced to the fields the
// metrics depend on.
type Response struct {
	Model   string        `json:"model"`
	Content string        `json:"content"`
	Latency time.Duration `json:"latency"`
}

// Metrics are the derived comparison scores, each 0-100.
type Metrics struct {
	// Semantic measures pairwise textual agreement across responses.
	// Identical content scores 100; fully divergent content scores 0.
	Semantic float64 `json:"semantic"`

	// Length measures how consistent the response lengths are.
	Length float64 `json:"length"`

	// Sentiment measures how consistent the response polarities are.
	Sentiment float64 `json:"sentiment"`

	// Speed measures latency clustering, weighted toward fast responses:
	// a tight cluster of fast responses outranks the same spread among
	// slow ones.
	Speed float64 `json:"speed"`
}

// speedReference is the latency at which the fastness weight halves.
const speedReference = 30 * time.Second

// Compute derives metrics from the succeeded responses. With fewer than
// two responses there is nothing to disagree with, so every score
// defaults to 100.
func Compute(responses []Response) Metrics {
	if len(responses) < 2 {
		return Metrics{Semantic: 100, Length: 100, Sentiment: 100, Speed: 100}
	}

	return Metrics{
		Semantic:  semanticScore(responses),
		Length:    lengthScore(responses),
		Sentiment: sentimentScore(responses),
		Speed:     speedScore(responses),
	}
}

// semanticScore is the average pairwise cosine similarity of
// term-frequency vectors, scaled to 0-100.
func semanticScore(responses []Response) float64 {
	vectors := make([]map[string]float64, len(responses))
	for i, r := range responses {
		vectors[i] = termFrequencies(r.Content)
	}

	var total float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			total += cosine(vectors[i], vectors[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 100
	}
	return clamp(total / float64(pairs) * 100)
}

// lengthScore is 100 minus the normalized coefficient of variation of
// response lengths.
func lengthScore(responses []Response) float64 {
	lengths := make([]float64, len(responses))
	for i, r := range responses {
		lengths[i] = float64(len(r.Content))
	}

	mean, stddev := meanStddev(lengths)
	if mean == 0 {
		return 100
	}
	cv := stddev / mean
	return clamp(100 * (1 - math.Min(cv, 1)))
}

// sentimentScore is 100 minus the normalized spread of per-response
// polarity estimates. Polarity ranges -1..1, so the maximum spread is 2.
func sentimentScore(responses []Response) float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for _, r := range responses {
		p := polarity(r.Content)
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	spread := max - min
	return clamp(100 * (1 - spread/2))
}

// speedScore combines latency clustering with a fastness weight. The
// clustering term is the spread relative to the mean; the fastness weight
// decays with mean latency so fast tight clusters outrank slow ones with
// the same relative spread.
func speedScore(responses []Response) float64 {
	latencies := make([]float64, len(responses))
	for i, r := range responses {
		latencies[i] = float64(r.Latency)
	}

	mean, stddev := meanStddev(latencies)
	if mean == 0 {
		return 100
	}

	clustering := 1 - math.Min(stddev/mean, 1)
	fastness := 1 / (1 + mean/float64(speedReference))
	return clamp(100 * clustering * fastness)
}

func termFrequencies(content string) map[string]float64 {
	freqs := make(map[string]float64)
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		freqs[w]++
	}
	return freqs
}

func cosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, fa := range a {
		normA += fa * fa
		if fb, ok := b[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range b {
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
