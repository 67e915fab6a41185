// Package budget implements the pure-functional ledger the scheduler uses to
// gate every model call and tool call. Every operation returns a new State;
// nothing is mutated in place, which is what lets one scheduler run thread a
// ledger through a sequential loop without any lock.
package budget

import (
	"fmt"

	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
)

// Limits are the configured caps for one scheduler run. maxSteps and
// maxToolCalls are required; the rest are optional (zero means unlimited).
type Limits struct {
	MaxSteps          int
	MaxToolCalls      int
	MaxTotalTokens    int
	MaxInputTokens    int
	MaxOutputTokens   int
	MaxReads          int
	MaxWrites         int
}

// Normalize clamps every limit to a non-negative integer and ensures the two
// required fields carry at least their documented minimums.
func (l Limits) Normalize() Limits {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		return v
	}
	n := Limits{
		MaxSteps:        clamp(l.MaxSteps),
		MaxToolCalls:    clamp(l.MaxToolCalls),
		MaxTotalTokens:  clamp(l.MaxTotalTokens),
		MaxInputTokens:  clamp(l.MaxInputTokens),
		MaxOutputTokens: clamp(l.MaxOutputTokens),
		MaxReads:        clamp(l.MaxReads),
		MaxWrites:       clamp(l.MaxWrites),
	}
	if n.MaxSteps < 1 {
		n.MaxSteps = 1
	}
	return n
}

// State is the immutable snapshot of consumption for one scheduler run.
type State struct {
	Limits                Limits
	StepsUsed             int
	ToolCallsUsed         int
	ReadsUsed             int
	WritesUsed            int
	TotalTokensUsed       int
	TotalInputTokensUsed  int
	TotalOutputTokensUsed int
}

// Create builds the initial ledger state for a scheduler run.
func Create(limits Limits) State {
	return State{Limits: limits.Normalize()}
}

// CanCallModel reports whether another model call is permitted: steps must
// be under the cap and every configured token cap must not yet be met.
func (s State) CanCallModel() bool {
	if s.StepsUsed >= s.Limits.MaxSteps {
		return false
	}
	if s.Limits.MaxTotalTokens > 0 && s.TotalTokensUsed >= s.Limits.MaxTotalTokens {
		return false
	}
	if s.Limits.MaxInputTokens > 0 && s.TotalInputTokensUsed >= s.Limits.MaxInputTokens {
		return false
	}
	if s.Limits.MaxOutputTokens > 0 && s.TotalOutputTokensUsed >= s.Limits.MaxOutputTokens {
		return false
	}
	return true
}

// CanCallTool reports whether a tool of the given kind may still execute.
func (s State) CanCallTool(kind policy.ToolKind) bool {
	if s.ToolCallsUsed >= s.Limits.MaxToolCalls {
		return false
	}
	switch kind {
	case policy.ToolKindRead:
		if s.Limits.MaxReads > 0 && s.ReadsUsed >= s.Limits.MaxReads {
			return false
		}
	case policy.ToolKindWrite:
		if s.Limits.MaxWrites > 0 && s.WritesUsed >= s.Limits.MaxWrites {
			return false
		}
	}
	return true
}

// BookModelCall requires CanCallModel and returns a new state with
// StepsUsed incremented.
func (s State) BookModelCall() (State, error) {
	if !s.CanCallModel() {
		return s, fmt.Errorf("budget: model call refused (steps %d/%d)", s.StepsUsed, s.Limits.MaxSteps)
	}
	next := s
	next.StepsUsed++
	return next, nil
}

// BookToolCall requires CanCallTool(kind) and returns a new state with the
// tool-call and kind-specific counters incremented.
func (s State) BookToolCall(kind policy.ToolKind) (State, error) {
	if !s.CanCallTool(kind) {
		return s, fmt.Errorf("budget: tool call refused (kind %s, calls %d/%d)", kind, s.ToolCallsUsed, s.Limits.MaxToolCalls)
	}
	next := s
	next.ToolCallsUsed++
	switch kind {
	case policy.ToolKindRead:
		next.ReadsUsed++
	case policy.ToolKindWrite:
		next.WritesUsed++
	}
	return next, nil
}

// BookUsage accumulates token usage unconditionally — the call already
// happened, so it is legal for the post-booking state to exceed a cap; this
// only forbids the *next* model call.
func (s State) BookUsage(u provider.Usage) State {
	next := s
	next.TotalInputTokensUsed += u.InputTokens
	next.TotalOutputTokensUsed += u.OutputTokens
	next.TotalTokensUsed += u.TotalTokens
	return next
}
