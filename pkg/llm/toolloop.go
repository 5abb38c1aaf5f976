package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
)

const (
	// DefaultMaxToolIterations bounds the tool-calling loop so a model that
	// keeps requesting tools cannot suspend a task forever.
	DefaultMaxToolIterations = 5

	defaultToolPoolSize = 4
)

// ToolLoopConfig configures a ToolLoop.
type ToolLoopConfig struct {
	Logger        *slog.Logger
	Client        ToolClient
	Executor      ToolExecutor
	MaxIterations int // default DefaultMaxToolIterations
	ToolPoolSize  int // max concurrently executing tool calls per round (default 4)
}

func (cfg *ToolLoopConfig) Validate() error {
	if cfg.Client == nil {
		return errors.New("tool client is required")
	}
	if cfg.Executor == nil {
		return errors.New("tool executor is required")
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxToolIterations
	}
	if cfg.MaxIterations < 0 {
		return errors.New("max iterations must be greater than 0")
	}
	if cfg.ToolPoolSize == 0 {
		cfg.ToolPoolSize = defaultToolPoolSize
	}
	return nil
}

// ToolLoop drives a bounded multi-turn tool-calling exchange: the model may
// request tool calls, the loop executes them and feeds the results back,
// until the model answers without tools or the iteration bound is reached.
type ToolLoop struct {
	log  *slog.Logger
	cfg  *ToolLoopConfig
	pool pond.ResultPool[ToolContentBlock]
}

// NewToolLoop creates a new ToolLoop.
func NewToolLoop(cfg *ToolLoopConfig) (*ToolLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ToolLoop{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[ToolContentBlock](cfg.ToolPoolSize),
	}, nil
}

// Run executes the tool-calling loop and returns the model's final text.
// Exceeding the iteration bound is a malformed-response-class failure for
// the task that owns this loop, never an unbounded suspension.
func (l *ToolLoop) Run(ctx context.Context, systemPrompt, userPrompt string, tools []ToolSpec) (string, error) {
	messages := []ToolMessage{
		{Role: "user", Content: []ToolContentBlock{{Type: "text", Text: userPrompt}}},
	}

	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		response, err := l.cfg.Client.CompleteWithTools(ctx, systemPrompt, messages, tools, WithCacheControl())
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}

		l.logInfo("tool loop: LLM response",
			"iteration", iteration+1,
			"stopReason", response.StopReason,
			"toolCalls", len(response.ToolCalls()))

		messages = append(messages, response.ToMessage())

		if !response.HasToolCalls() {
			return response.Text(), nil
		}

		results := l.executeToolCalls(ctx, response.ToolCalls())
		messages = append(messages, ToolMessage{Role: "user", Content: results})

		// Warn the model on the penultimate iteration so it wraps up.
		if iteration == l.cfg.MaxIterations-2 {
			messages[len(messages)-1].Content = append(messages[len(messages)-1].Content, ToolContentBlock{
				Type: "text",
				Text: "[System: This is your second-to-last turn. Provide your final answer on the next turn without calling further tools.]",
			})
		}
	}

	return "", NewError(ErrorMalformedResponse,
		fmt.Errorf("tool loop exceeded maximum iterations (%d)", l.cfg.MaxIterations))
}

// executeToolCalls runs the requested tool calls in parallel and returns
// tool_result blocks in request order. Tool failures become error results
// reported back to the model; they never abort the loop.
func (l *ToolLoop) executeToolCalls(ctx context.Context, calls []ToolCallInfo) []ToolContentBlock {
	group := l.pool.NewGroup()
	for _, call := range calls {
		call := call
		group.Submit(func() ToolContentBlock {
			out, isErr, err := l.cfg.Executor.CallTool(ctx, call.Name, call.Input)
			if err != nil {
				if l.log != nil {
					l.log.Error("tool loop: tool execution error", "tool", call.Name, "error", err)
				}
				return ToolContentBlock{
					Type:      "tool_result",
					ToolUseID: call.ID,
					Content:   fmt.Sprintf("Error: %v", err),
					IsError:   true,
				}
			}
			content := out
			if isErr {
				content = fmt.Sprintf("Error: %s", out)
			}
			return ToolContentBlock{
				Type:      "tool_result",
				ToolUseID: call.ID,
				Content:   content,
				IsError:   isErr,
			}
		})
	}

	results, _ := group.Wait()
	return results
}

func (l *ToolLoop) logInfo(msg string, args ...any) {
	if l.log != nil {
		l.log.Info(msg, args...)
	}
}
