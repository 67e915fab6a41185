package session

import (
	"fmt"

	"github.com/kaiho/agentloop/internal/provider"
)

// RewindMessages truncates a session's message history back to the state it
// was in right before the given turn started. It only ever replays the
// conversation, never disk state — files written during later turns stay
// written. Turn is 1-indexed against boundaries, the message-count recorded
// just before each user turn was appended (Session.TurnBoundaries).
func RewindMessages(messages []provider.Message, boundaries []int, turn int) ([]provider.Message, []int, error) {
	if turn < 1 || turn > len(boundaries) {
		return nil, nil, fmt.Errorf("session: invalid turn %d (have %d recorded turns)", turn, len(boundaries))
	}
	cut := boundaries[turn-1]
	if cut > len(messages) {
		cut = len(messages)
	}
	return messages[:cut], boundaries[:turn-1], nil
}
