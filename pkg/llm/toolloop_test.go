package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockToolClient scripts CompleteWithTools responses in call order.
type mockToolClient struct {
	mu        sync.Mutex
	responses []*ToolResponse
	err       error
	calls     [][]ToolMessage
}

func (m *mockToolClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	return "", errors.New("not used")
}

func (m *mockToolClient) CompleteWithTools(ctx context.Context, systemPrompt string, messages []ToolMessage, tools []ToolSpec, opts ...CompleteOption) (*ToolResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, messages)
	if len(m.responses) == 0 {
		return &ToolResponse{Blocks: []ToolContentBlock{{Type: "text", Text: "done"}}}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

type mockExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(name string, input map[string]any) (string, bool, error)
}

func (m *mockExecutor) CallTool(ctx context.Context, name string, input map[string]any) (string, bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(name, input)
	}
	return "result for " + name, false, nil
}

func textResponse(text string) *ToolResponse {
	return &ToolResponse{
		StopReason: "end_turn",
		Blocks:     []ToolContentBlock{{Type: "text", Text: text}},
	}
}

func toolUseResponse(calls ...string) *ToolResponse {
	resp := &ToolResponse{StopReason: "tool_use"}
	for i, name := range calls {
		resp.Blocks = append(resp.Blocks, ToolContentBlock{
			Type:      "tool_use",
			ToolUseID: fmt.Sprintf("call_%d", i),
			Name:      name,
			Input:     map[string]any{"query": "q"},
		})
	}
	return resp
}

func newTestLoop(t *testing.T, client ToolClient, executor ToolExecutor, maxIterations int) *ToolLoop {
	t.Helper()
	loop, err := NewToolLoop(&ToolLoopConfig{
		Client:        client,
		Executor:      executor,
		MaxIterations: maxIterations,
	})
	require.NoError(t, err)
	return loop
}

func TestToolLoop_AnswersWithoutTools(t *testing.T) {
	client := &mockToolClient{responses: []*ToolResponse{textResponse("the answer")}}
	executor := &mockExecutor{}

	out, err := newTestLoop(t, client, executor, 5).Run(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	require.Equal(t, "the answer", out)
	require.Empty(t, executor.calls)
}

func TestToolLoop_ExecutesRequestedTools(t *testing.T) {
	client := &mockToolClient{responses: []*ToolResponse{
		toolUseResponse("knowledge_search", "web_search"),
		textResponse("synthesized"),
	}}
	executor := &mockExecutor{}

	out, err := newTestLoop(t, client, executor, 5).Run(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	require.Equal(t, "synthesized", out)
	require.ElementsMatch(t, []string{"knowledge_search", "web_search"}, executor.calls)

	// Second round trip carries the tool results back as a user turn.
	require.Len(t, client.calls, 2)
	second := client.calls[1]
	last := second[len(second)-1]
	require.Equal(t, "user", last.Role)
	require.Equal(t, "tool_result", last.Content[0].Type)
	require.Equal(t, "result for knowledge_search", last.Content[0].Content)
}

func TestToolLoop_ToolResultsPreserveRequestOrder(t *testing.T) {
	client := &mockToolClient{responses: []*ToolResponse{
		toolUseResponse("a", "b", "c", "d"),
		textResponse("ok"),
	}}
	executor := &mockExecutor{}

	_, err := newTestLoop(t, client, executor, 5).Run(context.Background(), "sys", "user", nil)
	require.NoError(t, err)

	second := client.calls[1]
	results := second[len(second)-1].Content
	require.Len(t, results, 4)
	for i, blk := range results {
		require.Equal(t, fmt.Sprintf("call_%d", i), blk.ToolUseID)
	}
}

func TestToolLoop_ToolErrorReportedToModel(t *testing.T) {
	client := &mockToolClient{responses: []*ToolResponse{
		toolUseResponse("knowledge_search"),
		textResponse("recovered"),
	}}
	executor := &mockExecutor{fn: func(name string, input map[string]any) (string, bool, error) {
		return "", false, NewError(ErrorToolExecution, errors.New("backend down"))
	}}

	out, err := newTestLoop(t, client, executor, 5).Run(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", out)

	second := client.calls[1]
	result := second[len(second)-1].Content[0]
	require.True(t, result.IsError)
	require.Contains(t, result.Content, "backend down")
}

func TestToolLoop_IterationBoundExceeded(t *testing.T) {
	// The model never stops asking for tools.
	client := &mockToolClient{responses: []*ToolResponse{
		toolUseResponse("a"),
		toolUseResponse("a"),
		toolUseResponse("a"),
	}}
	executor := &mockExecutor{}

	out, err := newTestLoop(t, client, executor, 3).Run(context.Background(), "sys", "user", nil)
	require.Error(t, err)
	require.Empty(t, out)
	require.Equal(t, ErrorMalformedResponse, Classify(err))
	require.Len(t, client.calls, 3)
}

func TestToolLoop_ClientErrorPropagates(t *testing.T) {
	client := &mockToolClient{err: NewError(ErrorRateLimited, errors.New("429"))}
	executor := &mockExecutor{}

	_, err := newTestLoop(t, client, executor, 5).Run(context.Background(), "sys", "user", nil)
	require.Error(t, err)
	require.Equal(t, ErrorRateLimited, Classify(err))
}

func TestToolLoop_ConfigValidation(t *testing.T) {
	_, err := NewToolLoop(&ToolLoopConfig{Executor: &mockExecutor{}})
	require.Error(t, err)

	_, err = NewToolLoop(&ToolLoopConfig{Client: &mockToolClient{}})
	require.Error(t, err)

	_, err = NewToolLoop(&ToolLoopConfig{Client: &mockToolClient{}, Executor: &mockExecutor{}, MaxIterations: -1})
	require.Error(t, err)
}
