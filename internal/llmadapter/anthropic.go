// Package llmadapter implements the external chat-completion transport
// contract (spec §6, harness.ChatClient) against concrete model providers.
// The harness never talks to a provider SDK directly — it is always handed
// one of these adapters, matching the teacher's own provider-boundary split
// (internal/agent/providers in haasonsaas-nexus).
package llmadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// AnthropicConfig configures an AnthropicClient. Only APIKey is required;
// the rest default the same way the teacher's AnthropicConfig does.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicClient implements harness.ChatClient against the Claude Messages
// API via github.com/anthropics/anthropic-sdk-go, grounded on the teacher's
// AnthropicProvider (streaming request construction, retry-with-backoff
// loop, and SSE event handling).
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicClient builds an AnthropicClient; APIKey is required.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("llmadapter: anthropic API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}, nil
}

// Chat performs a non-streaming completion by draining ChatStream with a
// discarding sink — the Claude Messages API is natively streaming in this
// SDK, so there is one code path for both contract methods.
func (c *AnthropicClient) Chat(ctx context.Context, req harness.ChatRequest) (harness.Completion, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream implements the streaming half of the transport contract,
// retrying transient failures (rate limits, 5xx, network) with exponential
// backoff (the delay doubles on each attempt) before giving up.
func (c *AnthropicClient) ChatStream(ctx context.Context, req harness.ChatRequest, sink harness.EventSink) (harness.Completion, error) {
	if sink == nil {
		sink = func(harness.StreamEvent) {}
	}

	params, err := c.buildParams(req)
	if err != nil {
		return harness.Completion{}, fmt.Errorf("llmadapter: anthropic request build failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return harness.Completion{}, ctx.Err()
			}
		}
		completion, err := c.streamOnce(ctx, params, sink)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !isRetryableAnthropicError(err) {
			return harness.Completion{}, err
		}
	}
	return harness.Completion{}, fmt.Errorf("llmadapter: anthropic max retries exceeded: %w", lastErr)
}

func (c *AnthropicClient) buildParams(req harness.ChatRequest) (anthropic.MessageNewParams, error) {
	messages, system, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (c *AnthropicClient) streamOnce(ctx context.Context, params anthropic.MessageNewParams, sink harness.EventSink) (harness.Completion, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	var completion harness.Completion
	var deltas []harness.ToolCallDelta
	var textBuf strings.Builder
	var currentToolIndex = -1
	var currentToolID, currentToolName string

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolIndex++
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				id, name := currentToolID, currentToolName
				deltas = append(deltas, harness.ToolCallDelta{Index: currentToolIndex, ID: &id, Name: &name})
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textBuf.WriteString(delta.Text)
					sink(harness.StreamEvent{Kind: harness.StreamTextDelta, TextDelta: delta.Text})
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					completion.Reasoning += delta.Thinking
					sink(harness.StreamEvent{Kind: harness.StreamReasoningDelta, ReasoningDelta: delta.Thinking})
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && currentToolIndex >= 0 {
					frag := delta.PartialJSON
					deltas = append(deltas, harness.ToolCallDelta{Index: currentToolIndex, ArgumentFragment: frag})
					sink(harness.StreamEvent{Kind: harness.StreamToolCallDelta, ToolCallDelta: harness.ToolCallDelta{Index: currentToolIndex, ArgumentFragment: frag}})
				}
			}
		case "message_delta":
			usage := event.AsMessageDelta().Usage
			if usage.OutputTokens > 0 {
				if completion.Usage == nil {
					completion.Usage = &harness.Usage{}
				}
				completion.Usage.CompletionTokens = int(usage.OutputTokens)
			}
		case "message_start":
			usage := event.AsMessageStart().Message.Usage
			if usage.InputTokens > 0 {
				completion.Usage = &harness.Usage{PromptTokens: int(usage.InputTokens)}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return harness.Completion{}, wrapAnthropicError(err)
	}

	completion.Content = textBuf.String()
	completion.ToolCalls = harness.AssembleToolCalls(deltas)
	sink(harness.StreamEvent{Kind: harness.StreamDone})
	return completion, nil
}

// convertAnthropicMessages splits harness messages into Claude's
// messages-plus-separate-system shape, mirroring the teacher's
// convertMessages (system role is pulled out rather than sent as a turn).
func convertAnthropicMessages(messages []harness.Message) ([]anthropic.MessageParam, string, error) {
	var result []anthropic.MessageParam
	var system strings.Builder

	for _, msg := range messages {
		switch msg.Role {
		case harness.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
			continue
		case harness.RoleTool:
			result = append(result, anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.CallID, msg.Content, false)))
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if call.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					return nil, "", fmt.Errorf("invalid tool call arguments for %s: %w", call.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == harness.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, system.String(), nil
}

func convertAnthropicTools(tools []harness.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func isRetryableAnthropicError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("llmadapter: anthropic request failed (status %d): %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("llmadapter: anthropic stream error: %w", err)
}
