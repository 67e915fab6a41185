package session

import (
	"encoding/json"

	"github.com/kaiho/agentloop/internal/provider"
)

const (
	// charsPerToken is the heuristic ratio for estimating token count
	// without a real tokenizer.
	charsPerToken = 4
	// contextBuffer is the fraction of context window kept free.
	contextBuffer = 0.2
)

// EstimateTokens estimates one message's token count using the chars/4
// heuristic.
func EstimateTokens(msg provider.Message) int {
	tokens := len(msg.Role) / charsPerToken
	if msg.Content != nil {
		tokens += len(*msg.Content) / charsPerToken
	}
	for _, tc := range msg.ToolCalls {
		tokens += len(tc.Function.Name) / charsPerToken
		tokens += len(tc.Function.Arguments) / charsPerToken
	}
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// EstimateToolDefTokens estimates the token cost of sending a set of tool
// definitions to the model.
func EstimateToolDefTokens(defs []provider.ToolDefinition) int {
	data, err := json.Marshal(defs)
	if err != nil {
		return 0
	}
	tokens := len(data) / charsPerToken
	if tokens < 1 && len(defs) > 0 {
		tokens = 1
	}
	return tokens
}

// EstimateTotalTokens sums EstimateTokens across every message.
func EstimateTotalTokens(messages []provider.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return total
}

// ShouldCompact reports whether the estimated token usage has crossed into
// the reserved context buffer for a window of the given size.
func ShouldCompact(messages []provider.Message, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	threshold := int(float64(contextWindow) * (1 - contextBuffer))
	return EstimateTotalTokens(messages) >= threshold
}

// CompactionPrompt is the system prompt sent when asking the model to
// summarize the conversation so far.
func CompactionPrompt() string {
	return `Create a detailed summary of the conversation so far, paying close attention to explicit requests and prior actions. Capture technical details, code patterns, and decisions necessary to continue the work without losing context.

Cover: the explicit requests and intents, key technical concepts, files and code sections touched (with why each mattered), errors encountered and how they were resolved, problems solved, pending tasks, and precisely what was being worked on immediately before this summary.

Drop verbose tool output (full file contents, long search results) in favor of noting what was learned. Output the summary directly, with no preamble.`
}

// SerializeHistory renders messages as plain text for a compaction request,
// truncating long tool output so the summarization call itself doesn't blow
// its own budget.
func SerializeHistory(messages []provider.Message) string {
	var out []byte
	write := func(s string) { out = append(out, s...) }

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			write("[User]\n" + msg.ContentString() + "\n\n")
		case "assistant":
			write("[Assistant]\n" + msg.ContentString())
			for _, tc := range msg.ToolCalls {
				write("\n[Tool Call: " + tc.Function.Name + "(" + tc.Function.Arguments + ")]")
			}
			write("\n\n")
		case "tool":
			content := msg.ContentString()
			if len(content) > 1000 {
				content = content[:1000] + "...[truncated]"
			}
			write("[Tool Result]\n" + content + "\n\n")
		default:
			write("[" + msg.Role + "]\n" + msg.ContentString() + "\n\n")
		}
	}
	return string(out)
}
