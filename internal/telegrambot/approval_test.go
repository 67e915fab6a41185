package telegrambot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApprovalStore_RegisterResolve(t *testing.T) {
	s := newApprovalStore(time.Minute)
	ch := s.register("chat-1:call-1")

	ok := s.resolve("chat-1:call-1", true)
	require.True(t, ok)

	select {
	case decision := <-ch:
		require.True(t, decision)
	default:
		t.Fatal("expected a decision to be ready on the channel")
	}
}

func TestApprovalStore_ResolveUnknownKeyReturnsFalse(t *testing.T) {
	s := newApprovalStore(time.Minute)
	require.False(t, s.resolve("missing", true))
}

func TestApprovalStore_ResolveTwiceOnlyDeliversOnce(t *testing.T) {
	s := newApprovalStore(time.Minute)
	s.register("chat-1:call-1")

	require.True(t, s.resolve("chat-1:call-1", false))
	require.False(t, s.resolve("chat-1:call-1", true))
}

func TestApprovalStore_ExpiredTTLIsNotDelivered(t *testing.T) {
	s := newApprovalStore(time.Millisecond)
	s.register("chat-1:call-1")

	time.Sleep(5 * time.Millisecond)
	require.False(t, s.resolve("chat-1:call-1", true))
}

func TestApprovalStore_Forget(t *testing.T) {
	s := newApprovalStore(time.Minute)
	s.register("chat-1:call-1")

	s.forget("chat-1:call-1")
	require.False(t, s.resolve("chat-1:call-1", true))
}
