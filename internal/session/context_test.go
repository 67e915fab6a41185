package session

import (
	"testing"

	"github.com/kaiho/agentloop/internal/provider"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens_MinimumOneToken(t *testing.T) {
	msg := provider.Message{Role: "t"}
	require.GreaterOrEqual(t, EstimateTokens(msg), 1)
}

func TestEstimateTokens_GrowsWithContentLength(t *testing.T) {
	short := provider.TextMessage("user", "hi")
	long := provider.TextMessage("user", "this is a much longer message with considerably more content")
	require.Greater(t, EstimateTokens(long), EstimateTokens(short))
}

func TestShouldCompact_TriggersNearContextWindow(t *testing.T) {
	messages := []provider.Message{provider.TextMessage("user", makeLongString(4000))}
	require.True(t, ShouldCompact(messages, 1000))
	require.False(t, ShouldCompact(messages, 1_000_000))
}

func TestShouldCompact_ZeroWindowNeverTriggers(t *testing.T) {
	require.False(t, ShouldCompact(nil, 0))
}

func TestSerializeHistory_TruncatesLongToolResults(t *testing.T) {
	messages := []provider.Message{
		provider.ToolResultMessage("call-1", makeLongString(2000)),
	}
	out := SerializeHistory(messages)
	require.Contains(t, out, "[truncated]")
}

func makeLongString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
