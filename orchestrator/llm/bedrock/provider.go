// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package bedrock provides a provider adapter for AWS Bedrock managed
// models using the AWS SDK v2. Authentication uses AWS Signature V4 via
// IAM, so no API key is configured here.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
)

const (
	// DefaultRegion is used when the config does not name one.
	DefaultRegion = "us-east-1"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 1024
)

// Client is the subset of the Bedrock runtime client used by the adapter
// (enables testing without AWS credentials).
type Client interface {
	InvokeModel(ctx context.Context, input *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config contains configuration for the Bedrock adapter.
type Config struct {
	Region string // Optional: AWS region
	Model  string // Optional: Bedrock model identifier
	Client Client // Optional: injected client for tests
}

// Provider implements llm.Provider for AWS Bedrock.
type Provider struct {
	client Client
	region string
	model  string
}

// NewProvider creates a new Bedrock adapter. When no client is injected it
// loads the default AWS config chain for the region.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client := cfg.Client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
		}
		client = bedrockruntime.NewFromConfig(awsCfg)
	}

	return &Provider{
		client: client,
		region: cfg.Region,
		model:  cfg.Model,
	}, nil
}

// Name returns the adapter name.
func (p *Provider) Name() string {
	return "bedrock"
}

// Model returns the model identifier this adapter serves.
func (p *Provider) Model() string {
	return p.model
}

// Invoke performs one completion call via InvokeModel. The request body
// format depends on the model family.
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

	requestBody, err := buildRequestBody(req, model, maxTokens)
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: err.Error(), Cause: err}
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: "failed to marshal request", Cause: err}
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, p.classifyError(err)
	}

	result, err := parseResponseBody(output.Body, model)
	if err != nil {
		return nil, &llm.AdapterError{Provider: p.Name(), Kind: llm.ErrKindUnknown, Message: err.Error(), Cause: err}
	}

	result.Model = model
	result.CostUSD = p.costFor(model, result.Usage)
	result.Latency = time.Since(start)
	return result, nil
}

// classifyError maps SDK error types into the closed taxonomy.
func (p *Provider) classifyError(err error) *llm.AdapterError {
	kind := llm.ErrKindUnknown

	var throttled *brtypes.ThrottlingException
	var quotaExceeded *brtypes.ServiceQuotaExceededException
	var denied *brtypes.AccessDeniedException
	var internal *brtypes.InternalServerException
	var notReady *brtypes.ModelNotReadyException
	var modelTimeout *brtypes.ModelTimeoutException

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = llm.ErrKindTimeout
	case errors.As(err, &modelTimeout):
		kind = llm.ErrKindTimeout
	case errors.As(err, &throttled), errors.As(err, &quotaExceeded):
		kind = llm.ErrKindRateLimited
	case errors.As(err, &denied):
		kind = llm.ErrKindAuthInvalid
	case errors.As(err, &internal), errors.As(err, &notReady):
		kind = llm.ErrKindUnavailable
	}

	return &llm.AdapterError{
		Provider: p.Name(),
		Kind:     kind,
		Message:  err.Error(),
		Cause:    err,
	}
}

// buildRequestBody builds the request body based on model family.
func buildRequestBody(req llm.InvokeRequest, model string, maxTokens int) (map[string]interface{}, error) {
	temperature := req.Temperature
	if temperature < 0 {
		temperature = 0.7
	}

	switch detectModelFamily(model) {
	case "anthropic":
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages": []map[string]string{
				{"role": "user", "content": req.Prompt},
			},
		}
		if req.SystemPrompt != "" {
			body["system"] = req.SystemPrompt
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": req.Prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      req.Prompt,
			"max_gen_len": maxTokens,
			"temperature": temperature,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      req.Prompt,
			"max_tokens":  maxTokens,
			"temperature": temperature,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

// parseResponseBody parses the response body based on model family.
func parseResponseBody(body []byte, model string) (*llm.InvokeResult, error) {
	switch detectModelFamily(model) {
	case "anthropic":
		return parseAnthropicResponse(body)
	case "amazon":
		return parseTitanResponse(body)
	case "meta":
		return parseLlamaResponse(body)
	case "mistral":
		return parseMistralResponse(body)
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

func parseAnthropicResponse(body []byte) (*llm.InvokeResult, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}

	return &llm.InvokeResult{
		Content: content,
		Usage: llm.UsageStats{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: resp.StopReason,
	}, nil
}

func parseTitanResponse(body []byte) (*llm.InvokeResult, error) {
	var resp struct {
		Results []struct {
			OutputText       string `json:"outputText"`
			TokenCount       int    `json:"tokenCount"`
			CompletionReason string `json:"completionReason"`
		} `json:"results"`
		InputTextTokenCount int `json:"inputTextTokenCount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("response contained no results")
	}

	r := resp.Results[0]
	return &llm.InvokeResult{
		Content: r.OutputText,
		Usage: llm.UsageStats{
			PromptTokens:     resp.InputTextTokenCount,
			CompletionTokens: r.TokenCount,
			TotalTokens:      resp.InputTextTokenCount + r.TokenCount,
		},
		FinishReason: r.CompletionReason,
	}, nil
}

func parseLlamaResponse(body []byte) (*llm.InvokeResult, error) {
	var resp struct {
		Generation           string `json:"generation"`
		PromptTokenCount     int    `json:"prompt_token_count"`
		GenerationTokenCount int    `json:"generation_token_count"`
		StopReason           string `json:"stop_reason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &llm.InvokeResult{
		Content: resp.Generation,
		Usage: llm.UsageStats{
			PromptTokens:     resp.PromptTokenCount,
			CompletionTokens: resp.GenerationTokenCount,
			TotalTokens:      resp.PromptTokenCount + resp.GenerationTokenCount,
		},
		FinishReason: resp.StopReason,
	}, nil
}

func parseMistralResponse(body []byte) (*llm.InvokeResult, error) {
	var resp struct {
		Outputs []struct {
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Outputs) == 0 {
		return nil, fmt.Errorf("response contained no outputs")
	}

	return &llm.InvokeResult{
		Content:      resp.Outputs[0].Text,
		FinishReason: resp.Outputs[0].StopReason,
	}, nil
}

// detectModelFamily extracts the model family from a Bedrock model ID
// (e.g. "anthropic.claude-3-..." -> "anthropic").
func detectModelFamily(modelID string) string {
	if idx := strings.Index(modelID, "."); idx > 0 {
		return modelID[:idx]
	}
	return modelID
}

// HealthCheck verifies connectivity and IAM access with a minimal call.
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
