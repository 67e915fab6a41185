package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiho/agentloop/internal/budget"
	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
	"github.com/kaiho/agentloop/internal/registry"
)

// scriptedClient replays a fixed sequence of responses, one per call,
// standing in for a model that emits a specific tool call per turn.
type scriptedClient struct {
	responses []provider.Response
	calls     int
}

func (c *scriptedClient) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if c.calls >= len(c.responses) {
		panic("scriptedClient: ran out of scripted responses")
	}
	resp := c.responses[c.calls]
	c.calls++
	return &resp, nil
}

func newTestScheduler(t *testing.T, client provider.Client) *Scheduler {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes", "test.txt"), []byte("hello notes"), 0o644))

	engine := policy.New(root)
	reg, err := registry.New(engine)
	require.NoError(t, err)

	router := provider.NewRouter()
	router.Register(provider.NameGrok, client, "grok-test")

	return &Scheduler{Registry: reg, Router: router}
}

func toolCallMessage(id, name, argsJSON string) provider.Message {
	return provider.Message{
		Role: "assistant",
		ToolCalls: []provider.ToolCall{
			{ID: id, Type: "function", Function: provider.FunctionCall{Name: name, Arguments: argsJSON}},
		},
	}
}

func alwaysApprove(ctx context.Context, call provider.ToolCall) bool { return true }

// A list_dir turn, then a read_file turn, then a stop message: 3 model
// calls, 2 tool results appended, final finishReason stop, usage summed
// across calls.
func TestRun_ListThenReadThenSummarize(t *testing.T) {
	client := &scriptedClient{responses: []provider.Response{
		{
			Message:      toolCallMessage("call-1", "list_dir", `{"path":"notes"}`),
			FinishReason: provider.FinishToolCall,
			Usage:        provider.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
		{
			Message:      toolCallMessage("call-2", "read_file", `{"path":"notes/test.txt"}`),
			FinishReason: provider.FinishToolCall,
			Usage:        provider.Usage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28},
		},
		{
			Message:      provider.TextMessage("assistant", "Here is your summary."),
			FinishReason: provider.FinishStop,
			Usage:        provider.Usage{InputTokens: 30, OutputTokens: 12, TotalTokens: 42},
		},
	}}
	sched := newTestScheduler(t, client)

	req := RunRequest{
		Messages: []provider.Message{provider.TextMessage("user", "Please list notes, then read notes/test.txt and summarize.")},
		Purpose:  policy.PurposeDefault,
	}
	result, err := sched.Run(context.Background(), req, alwaysApprove, budget.Limits{MaxSteps: 10, MaxToolCalls: 10})
	require.NoError(t, err)

	require.Equal(t, 3, client.calls)
	require.Equal(t, provider.FinishStop, result.Final.FinishReason)
	require.Equal(t, 15+28+42, result.Usage.TotalTokens)

	var toolMessages int
	for _, m := range result.Messages {
		if m.Role == "tool" {
			toolMessages++
		}
	}
	require.Equal(t, 2, toolMessages)
}

// A write_file call outside the allowed prefix is rejected by policy; the
// tool message carries ok:false and no file is created.
func TestRun_DeniedWrite(t *testing.T) {
	client := &scriptedClient{responses: []provider.Response{
		{
			Message:      toolCallMessage("call-1", "write_file", `{"path":"notes/should-fail.txt","content":"nope"}`),
			FinishReason: provider.FinishToolCall,
		},
		{
			Message:      provider.TextMessage("assistant", "done"),
			FinishReason: provider.FinishStop,
		},
	}}
	sched := newTestScheduler(t, client)

	req := RunRequest{
		Messages: []provider.Message{provider.TextMessage("user", "write it")},
		Purpose:  policy.PurposeDefault,
	}
	result, err := sched.Run(context.Background(), req, alwaysApprove, budget.Limits{MaxSteps: 10, MaxToolCalls: 10})
	require.NoError(t, err)

	toolMsg := findToolMessage(t, result.Messages, "call-1")
	var decoded registry.Result
	require.NoError(t, json.Unmarshal([]byte(toolMsg.ContentString()), &decoded))
	require.False(t, decoded.OK)
	require.Contains(t, decoded.Error, "not allowed")
}

// MaxSteps=2 with the model emitting tool calls every turn; the scheduler
// returns the last response rather than failing once the budget is
// exhausted.
func TestRun_BudgetHalt(t *testing.T) {
	client := &scriptedClient{responses: []provider.Response{
		{Message: toolCallMessage("call-1", "list_dir", `{"path":"notes"}`), FinishReason: provider.FinishToolCall},
		{Message: toolCallMessage("call-2", "list_dir", `{"path":"notes"}`), FinishReason: provider.FinishToolCall},
	}}
	sched := newTestScheduler(t, client)

	req := RunRequest{
		Messages: []provider.Message{provider.TextMessage("user", "keep listing")},
		Purpose:  policy.PurposeDefault,
	}
	result, err := sched.Run(context.Background(), req, alwaysApprove, budget.Limits{MaxSteps: 2, MaxToolCalls: 10})
	require.NoError(t, err)
	require.Equal(t, 2, client.calls)
	require.Equal(t, 2, result.Ledger.StepsUsed)
	require.Equal(t, provider.FinishToolCall, result.Final.FinishReason)
}

// A denied call does not short-circuit a sibling call in the same turn.
func TestRun_ApprovalDenial(t *testing.T) {
	client := &scriptedClient{responses: []provider.Response{
		{
			Message: provider.Message{
				Role: "assistant",
				ToolCalls: []provider.ToolCall{
					{ID: "write-1", Type: "function", Function: provider.FunctionCall{Name: "write_file", Arguments: `{"path":"data/outputs/x.txt","content":"A"}`}},
					{ID: "read-1", Type: "function", Function: provider.FunctionCall{Name: "read_file", Arguments: `{"path":"notes/test.txt"}`}},
				},
			},
			FinishReason: provider.FinishToolCall,
		},
		{Message: provider.TextMessage("assistant", "done"), FinishReason: provider.FinishStop},
	}}
	sched := newTestScheduler(t, client)

	approve := func(ctx context.Context, call provider.ToolCall) bool {
		return call.Function.Name != "write_file"
	}

	req := RunRequest{
		Messages: []provider.Message{provider.TextMessage("user", "write then read")},
		Purpose:  policy.PurposeDefault,
	}
	result, err := sched.Run(context.Background(), req, approve, budget.Limits{MaxSteps: 10, MaxToolCalls: 10})
	require.NoError(t, err)

	writeMsg := findToolMessage(t, result.Messages, "write-1")
	require.Contains(t, writeMsg.ContentString(), "Tool call denied by policy/approval.")

	readMsg := findToolMessage(t, result.Messages, "read-1")
	var decoded registry.Result
	require.NoError(t, json.Unmarshal([]byte(readMsg.ContentString()), &decoded))
	require.True(t, decoded.OK)
}

func findToolMessage(t *testing.T, messages []provider.Message, toolCallID string) provider.Message {
	t.Helper()
	for _, m := range messages {
		if m.Role == "tool" && m.ToolCallID == toolCallID {
			return m
		}
	}
	t.Fatalf("no tool message found for tool_call_id %q", toolCallID)
	return provider.Message{}
}
