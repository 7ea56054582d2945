// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
)

// fakeClient returns a scripted InvokeModel response.
type fakeClient struct {
	output *bedrockruntime.InvokeModelOutput
	err    error

	lastInput *bedrockruntime.InvokeModelInput
}

func (f *fakeClient) InvokeModel(ctx context.Context, input *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func anthropicOutput(text string, in, out int) *bedrockruntime.InvokeModelOutput {
	body, _ := json.Marshal(map[string]interface{}{
		"content":     []map[string]string{{"text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": in, "output_tokens": out},
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}
}

func TestInvoke_AnthropicFamily(t *testing.T) {
	client := &fakeClient{output: anthropicOutput("bedrock says hi", 15, 8)}
	p, err := NewProvider(Config{Client: client})
	require.NoError(t, err)

	result, err := p.Invoke(context.Background(), llm.InvokeRequest{Prompt: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "bedrock says hi", result.Content)
	assert.Equal(t, 15, result.Usage.PromptTokens)
	assert.Equal(t, 8, result.Usage.CompletionTokens)
	assert.Equal(t, DefaultModel, result.Model)
	assert.Greater(t, result.CostUSD, 0.0)

	// Request body uses the anthropic messages schema.
	require.NotNil(t, client.lastInput)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(client.lastInput.Body, &body))
	assert.Contains(t, body, "anthropic_version")
	assert.Contains(t, body, "messages")
}

func TestInvoke_TitanFamily(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"results": []map[string]interface{}{
			{"outputText": "titan reply", "tokenCount": 5, "completionReason": "FINISH"},
		},
		"inputTextTokenCount": 3,
	})
	client := &fakeClient{output: &bedrockruntime.InvokeModelOutput{Body: body}}
	p, err := NewProvider(Config{Client: client, Model: "amazon.titan-text-express-v1"})
	require.NoError(t, err)

	result, err := p.Invoke(context.Background(), llm.InvokeRequest{Prompt: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "titan reply", result.Content)
	assert.Equal(t, 3, result.Usage.PromptTokens)
	assert.Equal(t, "FINISH", result.FinishReason)
}

func TestCost_UsesModelFamilyPricing(t *testing.T) {
	const titanModel = "amazon.titan-text-express-v1"

	titan, ok := cost.DefaultPricing.GetPricing("bedrock", titanModel)
	require.True(t, ok)
	claude, ok := cost.DefaultPricing.GetPricing("bedrock", DefaultModel)
	require.True(t, ok)
	require.NotEqual(t, claude.OutputPer1K, titan.OutputPer1K)

	body, _ := json.Marshal(map[string]interface{}{
		"results": []map[string]interface{}{
			{"outputText": "titan reply", "tokenCount": 1000, "completionReason": "FINISH"},
		},
		"inputTextTokenCount": 1000,
	})
	client := &fakeClient{output: &bedrockruntime.InvokeModelOutput{Body: body}}
	p, err := NewProvider(Config{Client: client, Model: titanModel})
	require.NoError(t, err)

	result, err := p.Invoke(context.Background(), llm.InvokeRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.InDelta(t, titan.InputPer1K+titan.OutputPer1K, result.CostUSD, 1e-12)

	est := p.EstimateCost(llm.InvokeRequest{Prompt: "hello", MaxTokens: 1000})
	assert.InDelta(t, titan.InputPer1K, est.InputCostPer1K, 1e-12)
	assert.InDelta(t, titan.OutputPer1K, est.OutputCostPer1K, 1e-12)
}

func TestInvoke_MetaFamily(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"generation":             "llama reply",
		"prompt_token_count":     4,
		"generation_token_count": 6,
		"stop_reason":            "stop",
	})
	client := &fakeClient{output: &bedrockruntime.InvokeModelOutput{Body: body}}
	p, err := NewProvider(Config{Client: client, Model: "meta.llama3-70b-instruct-v1:0"})
	require.NoError(t, err)

	result, err := p.Invoke(context.Background(), llm.InvokeRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "llama reply", result.Content)
	assert.Equal(t, 10, result.Usage.TotalTokens)
}

func TestInvoke_UnsupportedFamily(t *testing.T) {
	client := &fakeClient{}
	p, err := NewProvider(Config{Client: client, Model: "cohere.command-r-v1:0"})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), llm.InvokeRequest{Prompt: "hello"})
	require.Error(t, err)

	var adapterErr *llm.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, llm.ErrKindUnknown, adapterErr.Kind)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"throttling", &brtypes.ThrottlingException{}, llm.ErrKindRateLimited},
		{"quota exceeded", &brtypes.ServiceQuotaExceededException{}, llm.ErrKindRateLimited},
		{"access denied", &brtypes.AccessDeniedException{}, llm.ErrKindAuthInvalid},
		{"internal error", &brtypes.InternalServerException{}, llm.ErrKindUnavailable},
		{"model not ready", &brtypes.ModelNotReadyException{}, llm.ErrKindUnavailable},
		{"model timeout", &brtypes.ModelTimeoutException{}, llm.ErrKindTimeout},
		{"context deadline", context.DeadlineExceeded, llm.ErrKindTimeout},
		{"anything else", assert.AnError, llm.ErrKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{err: tt.err}
			p, perr := NewProvider(Config{Client: client})
			require.NoError(t, perr)

			_, ierr := p.Invoke(context.Background(), llm.InvokeRequest{Prompt: "x"})
			require.Error(t, ierr)

			var adapterErr *llm.AdapterError
			require.ErrorAs(t, ierr, &adapterErr)
			assert.Equal(t, tt.want, adapterErr.Kind)
		})
	}
}

func TestDetectModelFamily(t *testing.T) {
	assert.Equal(t, "anthropic", detectModelFamily("anthropic.claude-3-haiku-20240307-v1:0"))
	assert.Equal(t, "amazon", detectModelFamily("amazon.titan-text-express-v1"))
	assert.Equal(t, "mistral", detectModelFamily("mistral.mistral-large-2402-v1:0"))
	assert.Equal(t, "noperiod", detectModelFamily("noperiod"))
}
