package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaiho/agentloop/internal/budget"
	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
	"github.com/kaiho/agentloop/internal/registry"
)

// Scheduler wires the registry and provider router together and drives one
// run of the loop at a time; it holds no per-run state itself, so a single
// Scheduler value is safe to reuse across sessions run sequentially or in
// parallel. Concurrency is across runs, never within one.
type Scheduler struct {
	Registry  *registry.Registry
	Router    *provider.Router
	Events    EventSink
	KeepLastN int // 0 disables history clamping
}

// New builds a Scheduler with a no-op event sink; set Events explicitly to
// wire a real log.
func New(reg *registry.Registry, router *provider.Router) *Scheduler {
	return &Scheduler{Registry: reg, Router: router, Events: noopEventSink{}}
}

func (s *Scheduler) events() EventSink {
	if s.Events == nil {
		return noopEventSink{}
	}
	return s.Events
}

// Run drives the loop to completion: it alternates model calls and tool
// dispatch until the model stops requesting tools or the budget forbids
// another model call, in which case the last response is returned rather
// than failing.
func (s *Scheduler) Run(ctx context.Context, req RunRequest, approve ApproveFunc, limits budget.Limits) (*RunResult, error) {
	ledger := budget.Create(limits)
	messages := append([]provider.Message(nil), req.Messages...)

	tools := req.Tools
	if tools == nil && s.Registry != nil {
		tools = s.Registry.Definitions()
	}

	var usageTotal provider.Usage
	var lastResponse *provider.Response

	for {
		if !ledger.CanCallModel() {
			if lastResponse != nil {
				s.events().Event("toolloop_done", map[string]any{
					"session": "", "purpose": string(req.Purpose), "reason": "budget_exhausted",
				})
				return &RunResult{Final: lastResponse, Messages: messages, Usage: usageTotal, Ledger: ledger}, nil
			}
			return nil, fmt.Errorf("scheduler: budget exhausted before first model call")
		}

		var err error
		ledger, err = ledger.BookModelCall()
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}

		stepReq := provider.Request{
			System:      req.System,
			Messages:    messages,
			Tools:       tools,
			Model:       req.Model,
			MaxTokens:   req.MaxOutputTokens,
			Temperature: req.Temperature,
		}

		resp, err := s.Router.Send(ctx, req.Purpose, req.Provider, stepReq)
		if err != nil {
			return nil, fmt.Errorf("scheduler: model call failed: %w", err)
		}
		s.events().Event("llm_step", map[string]any{
			"purpose": string(req.Purpose), "finishReason": resp.FinishReason,
			"totalTokens": resp.Usage.Normalize().TotalTokens,
		})

		lastResponse = resp
		usageTotal = sumUsage(usageTotal, resp.Usage)
		ledger = ledger.BookUsage(resp.Usage)

		messages = append(messages, resp.Message)
		messages = clampMessages(messages, s.KeepLastN)

		if len(resp.Message.ToolCalls) == 0 {
			s.events().Event("toolloop_done", map[string]any{
				"purpose": string(req.Purpose), "reason": "stop",
			})
			return &RunResult{Final: lastResponse, Messages: messages, Usage: usageTotal, Ledger: ledger}, nil
		}

		for _, call := range resp.Message.ToolCalls {
			kind := policy.ClassifyTool(call.Function.Name)

			ledger, err = ledger.BookToolCall(kind)
			if err != nil {
				if kind == policy.ToolKindWrite {
					s.events().Event("write_budget_exceeded", map[string]any{
						"tool": call.Function.Name, "writesUsed": ledger.WritesUsed,
					})
				}
				return nil, fmt.Errorf("scheduler: %w", err)
			}

			s.events().Event("tool_suggested", map[string]any{
				"tool": call.Function.Name, "purpose": string(req.Purpose),
			})

			if !approve(ctx, call) {
				s.events().Event("tool_denied", map[string]any{"tool": call.Function.Name})
				messages = append(messages, deniedMessage(call.ID))
				messages = clampMessages(messages, s.KeepLastN)
				continue
			}
			s.events().Event("tool_approved", map[string]any{"tool": call.Function.Name})

			s.events().Event("tool_exec", map[string]any{"tool": call.Function.Name})
			result := s.Registry.Execute(ctx, call.Function.Name, req.Purpose, json.RawMessage(call.Function.Arguments))
			s.events().Event("tool_result", map[string]any{"tool": call.Function.Name, "ok": result.OK})

			messages = append(messages, resultMessage(call.ID, result))
			messages = clampMessages(messages, s.KeepLastN)
		}
	}
}

func sumUsage(total, delta provider.Usage) provider.Usage {
	delta = delta.Normalize()
	return provider.Usage{
		InputTokens:  total.InputTokens + delta.InputTokens,
		OutputTokens: total.OutputTokens + delta.OutputTokens,
		TotalTokens:  total.TotalTokens + delta.TotalTokens,
	}
}

// clampMessages keeps only the last keepLastN messages when keepLastN is
// positive. Compaction lives in internal/session; the scheduler only bounds
// raw message count per run.
func clampMessages(messages []provider.Message, keepLastN int) []provider.Message {
	if keepLastN <= 0 || len(messages) <= keepLastN {
		return messages
	}
	return messages[len(messages)-keepLastN:]
}

func deniedMessage(toolCallID string) provider.Message {
	payload, _ := json.Marshal(newDeniedResult())
	return provider.ToolResultMessage(toolCallID, string(payload))
}

func resultMessage(toolCallID string, result registry.Result) provider.Message {
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"ok":false,"error":"failed to encode tool result: %s"}`, err))
	}
	return provider.ToolResultMessage(toolCallID, string(payload))
}
