// Package scheduler implements the central tool-loop: a bounded,
// budget-governed dialogue between a model and the tool registry, with an
// explicit approval callback gating every tool call. Tool calls within one
// run are processed strictly sequentially, so the next model call always
// sees the result of every call before it.
package scheduler

import (
	"context"

	"github.com/kaiho/agentloop/internal/budget"
	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
)

// ApproveFunc decides whether a suggested tool call may execute. It may
// suspend (network round-trip, human input) — the bot surface bridges this
// to an inline-button event via a keyed pending-map with a TTL; the
// terminal surface binds it to a blocking stdin prompt.
type ApproveFunc func(ctx context.Context, call provider.ToolCall) bool

// EventSink receives one call per named event the scheduler emits,
// decoupling the scheduler from the concrete logging sink —
// internal/eventlog implements this.
type EventSink interface {
	Event(name string, fields map[string]any)
}

// noopEventSink is used when a Scheduler is built without an explicit sink.
type noopEventSink struct{}

func (noopEventSink) Event(string, map[string]any) {}

// RunRequest is the scheduler's input for one invocation: the conversation
// so far (including the new user turn already appended by the caller), an
// optional tool-definition override, and the provider call parameters.
type RunRequest struct {
	Messages        []provider.Message
	Tools           []provider.ToolDefinition // nil falls back to the full registry
	System          string
	Model           string
	MaxOutputTokens int
	Temperature     float64 // zero defers to the adapter default
	Purpose         policy.Purpose
	Provider        provider.Name // explicit override; empty defers to purpose-based routing
}

// RunResult is returned when the loop terminates because the model
// returned no further tool calls, or because the budget forbids another
// model call and a prior response exists to fall back to.
type RunResult struct {
	Final    *provider.Response
	Messages []provider.Message
	Usage    provider.Usage
	Ledger   budget.State
}

// deniedResult is the structured payload appended as a tool message when
// approval is refused, worded so the model can distinguish an approval
// denial from a tool-execution error.
type deniedResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func newDeniedResult() deniedResult {
	return deniedResult{OK: false, Error: "Tool call denied by policy/approval."}
}
