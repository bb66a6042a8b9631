package llmadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIClient implements harness.ChatClient against the Chat Completions
// API via github.com/sashabaranov/go-openai, grounded on the teacher's
// OpenAIProvider (streaming-by-default, chunked tool-call accumulation by
// index, retry-with-backoff on transient errors).
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIClient builds an OpenAIClient; APIKey is required.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("llmadapter: openai API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		cfg.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}, nil
}

// Chat performs a non-streaming completion by draining ChatStream with a
// discarding sink.
func (c *OpenAIClient) Chat(ctx context.Context, req harness.ChatRequest) (harness.Completion, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream implements the streaming half of the transport contract.
func (c *OpenAIClient) ChatStream(ctx context.Context, req harness.ChatRequest, sink harness.EventSink) (harness.Completion, error) {
	if sink == nil {
		sink = func(harness.StreamEvent) {}
	}

	chatReq := c.buildRequest(req)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return harness.Completion{}, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}
		stream, lastErr = c.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			return harness.Completion{}, fmt.Errorf("llmadapter: openai non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return harness.Completion{}, fmt.Errorf("llmadapter: openai max retries exceeded: %w", lastErr)
	}
	defer stream.Close()

	return c.consumeStream(ctx, stream, sink)
}

func (c *OpenAIClient) buildRequest(req harness.ChatRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	return chatReq
}

func (c *OpenAIClient) consumeStream(ctx context.Context, stream *openai.ChatCompletionStream, sink harness.EventSink) (harness.Completion, error) {
	var completion harness.Completion
	var textBuf strings.Builder
	var deltas []harness.ToolCallDelta
	seenIndex := map[int]bool{}

	for {
		select {
		case <-ctx.Done():
			return harness.Completion{}, ctx.Err()
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				completion.Content = textBuf.String()
				completion.ToolCalls = harness.AssembleToolCalls(deltas)
				sink(harness.StreamEvent{Kind: harness.StreamDone})
				return completion, nil
			}
			return harness.Completion{}, fmt.Errorf("llmadapter: openai stream error: %w", err)
		}
		if resp.Usage != nil {
			completion.Usage = &harness.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			textBuf.WriteString(delta.Content)
			sink(harness.StreamEvent{Kind: harness.StreamTextDelta, TextDelta: delta.Content})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			d := harness.ToolCallDelta{Index: index}
			if !seenIndex[index] {
				seenIndex[index] = true
				id, name := tc.ID, tc.Function.Name
				d.ID = &id
				d.Name = &name
			}
			d.ArgumentFragment = tc.Function.Arguments
			deltas = append(deltas, d)
			sink(harness.StreamEvent{Kind: harness.StreamToolCallDelta, ToolCallDelta: d})
		}
	}
}

func convertOpenAIMessages(messages []harness.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case harness.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case harness.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case harness.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, oaiMsg)
		case harness.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.CallID,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []harness.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func isRetryableOpenAIError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
