package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

// AnthropicClient implements Client and ToolClient using the Anthropic API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	log       *slog.Logger
}

// NewAnthropicClient creates a new Anthropic-based LLM client. The API key
// is read from the environment by the SDK.
func NewAnthropicClient(log *slog.Logger, model anthropic.Model, maxTokens int64) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
		log:       log,
	}
}

// Complete sends a prompt to Claude and returns the response text.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	options := &CompleteOptions{}
	for _, opt := range opts {
		opt(options)
	}

	start := time.Now()
	if c.log != nil {
		c.log.Debug("anthropic: API call starting", "model", c.model, "maxTokens", c.maxTokens, "userPromptLen", len(userPrompt))
	}

	system := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if options.CacheSystemPrompt {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{system},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	duration := time.Since(start)
	if err != nil {
		if c.log != nil {
			c.log.Error("anthropic: API call failed", "duration", duration, "error", err)
		}
		return "", classifyAPIError(err)
	}
	if c.log != nil {
		c.log.Debug("anthropic: API call completed", "duration", duration, "stopReason", msg.StopReason)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", NewError(ErrorMalformedResponse, errors.New("no text content in response"))
}

// CompleteWithTools sends a conversation with tool definitions and returns
// the raw response, including any requested tool calls.
func (c *AnthropicClient) CompleteWithTools(ctx context.Context, systemPrompt string, messages []ToolMessage, tools []ToolSpec, opts ...CompleteOption) (*ToolResponse, error) {
	options := &CompleteOptions{}
	for _, opt := range opts {
		opt(options)
	}

	system := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if options.CacheSystemPrompt {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{system},
		Messages:  toAnthropicMessages(messages),
		Tools:     toAnthropicTools(tools),
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if c.log != nil {
			c.log.Error("anthropic: tool call failed", "duration", time.Since(start), "error", err)
		}
		return nil, classifyAPIError(err)
	}

	return fromAnthropicMessage(msg), nil
}

// classifyAPIError maps SDK errors onto the client error taxonomy.
func classifyAPIError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return NewError(ErrorRateLimited, err)
		case apierr.StatusCode == http.StatusRequestTimeout:
			return NewError(ErrorTimeout, err)
		case apierr.StatusCode >= 500:
			return NewError(ErrorUnavailable, err)
		}
		return fmt.Errorf("anthropic API error: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTimeout, err)
	}
	return NewError(ErrorUnavailable, err)
}

func toAnthropicMessages(messages []ToolMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, blk := range msg.Content {
			switch blk.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(blk.Text))
			case "tool_use":
				blocks = append(blocks, anthropic.NewToolUseBlock(blk.ToolUseID, mustJSON(blk.Input), blk.Name))
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(blk.ToolUseID, blk.Content, blk.IsError))
			}
		}
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) *ToolResponse {
	resp := &ToolResponse{
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	for _, blk := range msg.Content {
		switch blk.Type {
		case "text":
			text := blk.AsText()
			resp.Blocks = append(resp.Blocks, ToolContentBlock{Type: "text", Text: text.Text})
		case "tool_use":
			tu := blk.AsToolUse()
			var input map[string]any
			if err := json.Unmarshal(tu.Input, &input); err != nil {
				continue
			}
			resp.Blocks = append(resp.Blocks, ToolContentBlock{
				Type:      "tool_use",
				ToolUseID: tu.ID,
				Name:      tu.Name,
				Input:     input,
			})
		}
	}
	return resp
}

// toAnthropicTools converts tool specs to Anthropic tool parameters.
func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		required, _ := t.InputSchema["required"].([]string)
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.Opt(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

func mustJSON(v map[string]any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
