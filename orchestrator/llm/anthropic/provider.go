// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package anthropic provides a provider adapter for Anthropic's Claude
// models over the Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 1024
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic adapter.
type Config struct {
	APIKey     string // Required: Anthropic API key
	BaseURL    string // Optional: API base URL
	APIVersion string // Optional: API version header
	Model      string // Optional: model identifier served by this adapter
	Client     HTTPClient
}

// Provider implements llm.Provider for Anthropic Claude.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
}

// NewProvider creates a new Anthropic adapter instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Client == nil {
		// No client-level timeout; the engine controls deadlines per call
		// through the request context.
		cfg.Client = &http.Client{}
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     cfg.Client,
	}, nil
}

// Name returns the adapter name.
func (p *Provider) Name() string {
	return "anthropic"
}

// Model returns the model identifier this adapter serves.
func (p *Provider) Model() string {
	return p.model
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke performs one completion call against the Messages API.
func (p *Provider) Invoke(ctx context.Context, req llm.InvokeRequest) (*llm.InvokeResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.SystemPrompt != "" {
		apiReq.System = req.SystemPrompt
	}
	// Temperature 0.0 is valid (deterministic); negative means unset.
	if req.Temperature >= 0 {
		temp := req.Temperature
		apiReq.Temperature = &temp
	}
	if len(req.StopSequences) > 0 {
		apiReq.StopSequences = req.StopSequences
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(p.Name(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to decode response", Cause: err}
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	usage := llm.UsageStats{
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
		TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
	}

	return &llm.InvokeResult{
		Content:      content.String(),
		Model:        apiResp.Model,
		Usage:        usage,
		CostUSD:      p.costFor(model, usage),
		Latency:      time.Since(start),
		FinishReason: apiResp.StopReason,
	}, nil
}

// parseAPIError converts a non-200 response into a classified adapter error.
func (p *Provider) parseAPIError(status int, body []byte) *llm.AdapterError {
	message := fmt.Sprintf("unexpected status %d", status)
	var apiErr anthropicErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	kind := llm.ClassifyStatus(status)
	// Anthropic reports overload as a dedicated error type on 529.
	if apiErr.Error.Type == "overloaded_error" {
		kind = llm.ErrKindUnavailable
	}

	return &llm.AdapterError{
		Provider:   p.Name(),
		Kind:       kind,
		Message:    message,
		StatusCode: status,
	}
}

// HealthCheck verifies API connectivity and authentication with a minimal
// single-token completion.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Invoke(ctx, llm.InvokeRequest{Prompt: "ping", MaxTokens: 1})
	return err
}

// EstimateCost returns a conservative estimate: every requested output
// token is assumed to be generated.
func (p *Provider) EstimateCost(req llm.InvokeRequest) llm.CostEstimate {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	inputTokens := llm.EstimatePromptTokens(req.Prompt, req.SystemPrompt)

	model := req.Model
	if model == "" {
		model = p.model
	}
	pricing, _ := cost.DefaultPricing.GetPricing(p.Name(), model)

	return llm.CostEstimate{
		InputCostPer1K:        pricing.InputPer1K,
		OutputCostPer1K:       pricing.OutputPer1K,
		EstimatedInputTokens:  inputTokens,
		EstimatedOutputTokens: maxTokens,
		TotalEstimate:         float64(inputTokens)/1000*pricing.InputPer1K + float64(maxTokens)/1000*pricing.OutputPer1K,
	}
}

func (p *Provider) costFor(model string, usage llm.UsageStats) float64 {
	return cost.DefaultPricing.CalculateCost(p.Name(), model, usage.PromptTokens, usage.CompletionTokens)
}

// classifyTransportError maps transport-level failures (no HTTP response)
// into the closed error taxonomy.
func classifyTransportError(provider string, err error) *llm.AdapterError {
	kind := llm.ErrKindUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = llm.ErrKindTimeout
	}
	return &llm.AdapterError{
		Provider: provider,
		Kind:     kind,
		Message:  err.Error(),
		Cause:    err,
	}
}
