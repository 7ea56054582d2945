// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"strings"
	"unicode"
)

// Minimal polarity lexicon. The metric only needs a stable relative
// estimate per response, not a production sentiment model.
var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "best": true,
	"positive": true, "helpful": true, "effective": true, "success": true,
	"successful": true, "benefit": true, "beneficial": true, "improve": true,
	"improved": true, "advantage": true, "strong": true, "reliable": true,
	"easy": true, "clear": true, "useful": true, "well": true,
	"better": true, "safe": true, "correct": true, "right": true,
	"love": true, "like": true, "happy": true, "wonderful": true,
}

var negativeWords = map[string]bool{
	"bad": true, "poor": true, "worst": true, "negative": true,
	"harmful": true, "fail": true, "failure": true, "failed": true,
	"problem": true, "problems": true, "issue": true, "issues": true,
	"disadvantage": true, "weak": true, "unreliable": true, "hard": true,
	"difficult": true, "unclear": true, "useless": true, "worse": true,
	"unsafe": true, "wrong": true, "error": true, "errors": true,
	"hate": true, "dislike": true, "sad": true, "terrible": true,
}

// polarity estimates the sentiment of a text in [-1, 1]: the balance of
// positive and negative lexicon hits over all lexicon hits.
func polarity(content string) float64 {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	var pos, neg float64
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}

	total := pos + neg
	if total == 0 {
		return 0
	}
	return (pos - neg) / total
}
