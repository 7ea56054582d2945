// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"strings"
	"sync"
)

// ModelPricing contains pricing per 1K tokens for a model.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// PricingConfig holds pricing information for all providers and models.
type PricingConfig struct {
	Providers map[string]map[string]ModelPricing `json:"providers"`
	mu        sync.RWMutex
}

// DefaultPricing contains default pricing for common providers and models.
// Prices are per 1K tokens in USD. The "*" entry in each provider table is
// the fallback for unknown models.
var DefaultPricing = &PricingConfig{
	Providers: map[string]map[string]ModelPricing{
		"anthropic": {
			"claude-opus-4":              {InputPer1K: 0.015, OutputPer1K: 0.075},
			"claude-sonnet-4":            {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-5-sonnet":          {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-5-haiku":           {InputPer1K: 0.0008, OutputPer1K: 0.004},
			"claude-3-haiku":             {InputPer1K: 0.00025, OutputPer1K: 0.00125},
			"*":                          {InputPer1K: 0.003, OutputPer1K: 0.015},
		},
		"openai": {
			"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
			"gpt-4":         {InputPer1K: 0.03, OutputPer1K: 0.06},
			"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
			"o1-mini":       {InputPer1K: 0.003, OutputPer1K: 0.012},
			"*":             {InputPer1K: 0.01, OutputPer1K: 0.03},
		},
		"bedrock": {
			"anthropic.claude-3-5-sonnet-20240620-v1:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
			"amazon.titan-text-express-v1":              {InputPer1K: 0.0002, OutputPer1K: 0.0006},
			"meta.llama3-70b-instruct-v1:0":             {InputPer1K: 0.00265, OutputPer1K: 0.0035},
			"mistral.mistral-large-2402-v1:0":           {InputPer1K: 0.004, OutputPer1K: 0.012},
			"*":                                         {InputPer1K: 0.003, OutputPer1K: 0.015},
		},
	},
}

// NewPricingConfig returns an empty pricing configuration.
func NewPricingConfig() *PricingConfig {
	return &PricingConfig{Providers: make(map[string]map[string]ModelPricing)}
}

// GetPricing looks up the pricing for a provider/model pair. Model lookup
// falls back to a prefix match, then to the provider's "*" entry.
func (p *PricingConfig) GetPricing(provider, model string) (ModelPricing, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models, ok := p.Providers[strings.ToLower(provider)]
	if !ok {
		return ModelPricing{}, false
	}

	if pricing, ok := models[model]; ok {
		return pricing, true
	}

	// Versioned model names (claude-3-5-sonnet-20241022) match their base.
	for name, pricing := range models {
		if name != "*" && strings.HasPrefix(model, name) {
			return pricing, true
		}
	}

	if pricing, ok := models["*"]; ok {
		return pricing, true
	}
	return ModelPricing{}, false
}

// SetPricing adds or updates the pricing for a provider/model pair.
func (p *PricingConfig) SetPricing(provider, model string, pricing ModelPricing) {
	p.mu.Lock()
	defer p.mu.Unlock()

	provider = strings.ToLower(provider)
	if p.Providers[provider] == nil {
		p.Providers[provider] = make(map[string]ModelPricing)
	}
	p.Providers[provider][model] = pricing
}

// CalculateCost computes the cost in USD for a given token usage.
func (p *PricingConfig) CalculateCost(provider, model string, tokensIn, tokensOut int) float64 {
	pricing, ok := p.GetPricing(provider, model)
	if !ok {
		return 0
	}
	return float64(tokensIn)/1000*pricing.InputPer1K + float64(tokensOut)/1000*pricing.OutputPer1K
}
