// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package openai provides a provider adapter for OpenAI models over the
// Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "gpt-4o"

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 1024
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI adapter.
type Config struct {
	APIKey  string // Required: OpenAI API key
	BaseURL string // Optional: API base URL
	Model   string // Optional: model identifier served by this adapter
	Client  HTTPClient
}

// Provider implements llm.Provider for OpenAI.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// NewProvider creates a new OpenAI adapter instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  cfg.Client,
	}, nil
}

// Name returns the adapter name.
func (p *Provider) Name() string {
	return "openai"
}

// Model returns the model identifier this adapter serves.
func (p *Provider) Model() string {
	return p.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Invoke performs one completion call against the Chat Completions API.
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

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	apiReq := chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stop:      req.StopSequences,
	}
	if req.Temperature >= 0 {
		temp := req.Temperature
		apiReq.Temperature = &temp
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		kind := llm.ErrKindUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = llm.ErrKindTimeout
		}
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: kind, Message: err.Error(), Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to decode response", Cause: err}
	}

	if len(apiResp.Choices) == 0 {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "response contained no choices"}
	}

	usage := llm.UsageStats{
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:      apiResp.Usage.TotalTokens,
	}

	return &llm.InvokeResult{
		Content:      apiResp.Choices[0].Message.Content,
		Model:        apiResp.Model,
		Usage:        usage,
		CostUSD:      p.costFor(model, usage),
		Latency:      time.Since(start),
		FinishReason: apiResp.Choices[0].FinishReason,
	}, nil
}

// parseAPIError converts a non-200 response into a classified adapter error.
func (p *Provider) parseAPIError(status int, body []byte) *llm.AdapterError {
	message := fmt.Sprintf("unexpected status %d", status)
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	kind := llm.ClassifyStatus(status)
	// insufficient_quota arrives as a 429 but is not transient.
	if apiErr.Error.Code == "insufficient_quota" {
		kind = llm.ErrKindAuthInvalid
	}

	return &llm.AdapterError{
		Provider:   p.Name(),
		Kind:       kind,
		Message:    message,
		StatusCode: status,
	}
}

// HealthCheck verifies API connectivity and authentication.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Invoke(ctx, llm.InvokeRequest{Prompt: "ping", MaxTokens: 1})
	return err
}

// EstimateCost returns a conservative estimate assuming the full output
// budget is spent.
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
